package logbridge

import "github.com/tidwall/gjson"

// flattenHistoricalLogs implements spec.md §4.6 step 4's flattening policy
// over an untyped result document:
//   - opStates[] present: iterate operations, emit each one's logs[].
//   - else logs[] present: emit them.
//   - else: emit the document verbatim (JSON-stringified).
//
// Each emitted item: a string is forwarded as-is; an object with log|message
// forwards that field; an object with a nested logs array recurses.
func flattenHistoricalLogs(result []byte) []string {
	doc := gjson.ParseBytes(result)

	if opStates := doc.Get("opStates"); opStates.IsArray() {
		var lines []string
		for _, op := range opStates.Array() {
			lines = append(lines, flattenLogsField(op.Get("logs"))...)
		}
		return lines
	}

	if logs := doc.Get("logs"); logs.Exists() {
		return flattenLogsField(logs)
	}

	return []string{doc.Raw}
}

func flattenLogsField(logs gjson.Result) []string {
	if !logs.IsArray() {
		if logs.Exists() {
			return flattenItem(logs)
		}
		return nil
	}
	var lines []string
	for _, item := range logs.Array() {
		lines = append(lines, flattenItem(item)...)
	}
	return lines
}

func flattenItem(item gjson.Result) []string {
	switch {
	case item.Type == gjson.String:
		return []string{item.String()}
	case item.Get("logs").Exists():
		return flattenLogsField(item.Get("logs"))
	case item.Get("log").Exists():
		return []string{item.Get("log").String()}
	case item.Get("message").Exists():
		return []string{item.Get("message").String()}
	default:
		return []string{item.Raw}
	}
}
