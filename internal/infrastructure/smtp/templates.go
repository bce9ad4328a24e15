package smtp

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates renders the html bodies of every mail the service sends.
type Templates struct {
	set *template.Template
}

func NewTemplates() (*Templates, error) {
	set, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Templates{set: set}, nil
}

func (t *Templates) VerificationEmail(name, link string) (string, error) {
	return t.render("verification_email.html", map[string]string{"Name": name, "Link": link})
}

func (t *Templates) OTPEmail(code string, ttl time.Duration) (string, error) {
	return t.render("otp_email.html", map[string]string{"Code": code, "Expiry": expiryText(ttl)})
}

// expiryText rounds ttl up so a code never claims to expire sooner than it does.
func expiryText(ttl time.Duration) string {
	if ttl < time.Minute {
		return plural(int(math.Ceil(ttl.Seconds())), "second")
	}
	return plural(int(math.Ceil(ttl.Minutes())), "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func (t *Templates) ExistingAccountEmail(name string) (string, error) {
	return t.render("existing_account_email.html", map[string]string{"Name": name})
}

func (t *Templates) render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.set.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
