package httpapi

// Config defines HTTP API and UI settings.
type Config struct {
	Addr            string
	SessionCookie   string
	SessionTTLHours int
	BaseURL         string
	BasePath        string
	// MaxUploadMB caps the multipart body of one upload. Zero means no cap.
	MaxUploadMB int
}
