package notifications

import "strings"

// MergeAddress combines an item's address value with the task default.
//
// A task value starting with "+" is appended to the item value. Otherwise the item
// value is used only when the task value is shorter than two characters.
func MergeAddress(itemAddress, taskAddress string) string {
	if strings.HasPrefix(taskAddress, "+") {
		return itemAddress + ";" + taskAddress[1:]
	}
	if itemAddress == "" {
		return taskAddress
	}
	if len(taskAddress) > 1 {
		return taskAddress
	}
	return itemAddress
}

// SplitAddresses splits an address list on "," and ";", trimming each entry and
// dropping empty ones.
func SplitAddresses(list string) []string {
	fields := strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ';'
	})

	addresses := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			addresses = append(addresses, f)
		}
	}
	return addresses
}
