package utils

// Ptr returns a pointer to v, for optional fields in request payloads and
// configs.
func Ptr[T any](v T) *T {
	return &v
}
