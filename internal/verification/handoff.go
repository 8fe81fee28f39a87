package verification

import (
	"fmt"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"
)

// handoffStep is the registration step a second device resumes at after
// scanning the code.
const handoffStep = "2"

// HandoffLink builds the URL a second device scans to resume the
// verification flow. All resumption state travels in plain query parameters
// (step, and email when known) so the link works on a cold page load with no
// server-side session transfer. Correlation is therefore by account email
// only; see DESIGN.md for the race this documented behavior carries.
func HandoffLink(pageURL, email string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse handoff base %q: %w", pageURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("handoff base %q must be absolute", pageURL)
	}

	q := u.Query()
	q.Set("step", handoffStep)
	if email != "" {
		q.Set("email", email)
	}
	u.RawQuery = q.Encode()
	// query parameters, not fragments: the second device opens the link cold
	u.Fragment = ""

	return u.String(), nil
}

// HandoffQR renders the handoff link as a scannable PNG.
func HandoffQR(link string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(link, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode handoff QR: %w", err)
	}
	return png, nil
}
