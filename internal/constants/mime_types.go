package constants

// DefaultMimeType is served for extensions outside the upload table.
const DefaultMimeType = "application/octet-stream"

// uploadTypes lists the accepted upload extensions and the content type
// each is stored and served with, grouped by the message kind they map to.
var uploadTypes = [][2]string{
	// image
	{"jpg", "image/jpeg"},
	{"jpeg", "image/jpeg"},
	{"png", "image/png"},
	{"gif", "image/gif"},
	{"webp", "image/webp"},
	// video
	{"mp4", "video/mp4"},
	{"mov", "video/quicktime"},
	{"webm", "video/webm"},
	// audio
	{"mp3", "audio/mpeg"},
	{"ogg", "audio/ogg"},
	{"wav", "audio/wav"},
	{"m4a", "audio/mp4"},
	// file
	{"pdf", "application/pdf"},
	{"doc", "application/msword"},
	{"docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	{"xls", "application/vnd.ms-excel"},
	{"xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	{"txt", "text/plain"},
}

// MimeTypes maps a dotted extension to its content type.
var MimeTypes = func() map[string]string {
	m := make(map[string]string, len(uploadTypes))
	for _, t := range uploadTypes {
		m["."+t[0]] = t[1]
	}
	return m
}()

// DefaultAllowedExtensions is the upload allow-list used when the
// configuration does not set one.
var DefaultAllowedExtensions = func() []string {
	exts := make([]string, len(uploadTypes))
	for i, t := range uploadTypes {
		exts[i] = t[0]
	}
	return exts
}()
