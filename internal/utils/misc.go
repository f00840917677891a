package utils

// ShortKey truncates a hex key or room id for log output.
func ShortKey(k string) string {
	if len(k) <= 16 {
		return k
	}
	return k[:16]
}
