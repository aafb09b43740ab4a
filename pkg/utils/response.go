package utils

// ResponseData is the JSON envelope every REST handler returns.
// Status is used for the HTTP status only and is not serialized.
type ResponseData struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded panics with the given error so the recovery middleware can
// translate it into a ResponseData. Handlers use it for the unhappy paths
// they do not want to spell out inline.
func PanicIfNeeded(err any) {
	if err != nil {
		panic(err)
	}
}
