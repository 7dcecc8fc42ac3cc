package codes

// ErrorCodes maps package installer (pip) exit statuses to their descriptions
var ErrorCodes = map[int]string{
	0:  "Success",
	1:  "Error",
	2:  "Unknown error",
	3:  "Virtualenv not found",
	4:  "Previous build directory error",
	23: "No matches found",
}

// IsSuccess returns true if the exit code indicates the installer command succeeded
func IsSuccess(code int) bool {
	return code == 0
}

// GetErrorMessage returns the error message for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := ErrorCodes[code]; ok {
		return msg
	}

	if code < 0 {
		return "Installer could not be started"
	}

	return "Unknown error"
}
