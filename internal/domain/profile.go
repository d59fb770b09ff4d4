package domain

// SecurityMode selects transport security for an SMTP connection.
type SecurityMode int

// Security modes as stored on profiles.
const (
	SecurityNone        SecurityMode = 0
	SecurityStartTLS    SecurityMode = 1
	SecurityImplicitTLS SecurityMode = 2
)

// Normalize returns the mode itself, or STARTTLS for unrecognized values.
func (m SecurityMode) Normalize() SecurityMode {
	switch m {
	case SecurityNone, SecurityStartTLS, SecurityImplicitTLS:
		return m
	default:
		return SecurityStartTLS
	}
}

func (m SecurityMode) String() string {
	switch m.Normalize() {
	case SecurityNone:
		return "none"
	case SecurityImplicitTLS:
		return "tls"
	default:
		return "starttls"
	}
}

// MailProfile is an SMTP connection policy.
type MailProfile struct {
	ID       int64        `json:"id"`
	Host     string       `json:"host"`
	Port     int          `json:"port"`
	Security SecurityMode `json:"security"`
	Username string       `json:"username,omitempty"`
	Secret   SecretRef    `json:"secret"`
}

// HasAuth reports whether the profile requires SMTP authentication.
func (p *MailProfile) HasAuth() bool {
	return p.Username != ""
}

// EmailTemplate holds subject and body patterns for one language/app binding.
type EmailTemplate struct {
	ID         int64  `json:"id"`
	TemplateID int64  `json:"template_id"`
	Language   string `json:"language"`
	AppID      int64  `json:"app_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}
