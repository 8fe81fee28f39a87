package payment

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vecinoapp/vecino-core/pkg/models"
)

// App routes the continuation navigates to after a completed payment.
const (
	RouteWall           = "/muro"
	RouteServicePublish = "/servicios/publicar"
	RouteJobPublish     = "/empleos/publicar"
	RouteHome           = "/"
)

const contactGreeting = "Hola %s! Vi tu publicación en VecinoApp y me gustaría contactarte."

// Action is the single continuation armed by a completed payment. Exactly
// one purpose branch produces it, and it may be executed at most once.
type Action struct {
	Purpose models.PaymentPurpose `json:"purpose"`

	// DeepLink is the outbound chat URI, present only for contact unlocks.
	DeepLink string `json:"deepLink,omitempty"`

	// Route is the in-app destination after the continuation runs.
	Route string `json:"route"`
}

// buildAction selects the continuation for a completed ticket by purpose.
func buildAction(ticket *models.PaymentTicket) *Action {
	switch ticket.Purpose() {
	case models.PurposeContactUnlock:
		return &Action{
			Purpose:  models.PurposeContactUnlock,
			DeepLink: chatDeepLink(ticket.TargetPhone, ticket.TargetName),
			Route:    RouteWall,
		}
	case models.PurposeServicePackage:
		return &Action{
			Purpose: models.PurposeServicePackage,
			Route:   RouteServicePublish,
		}
	default:
		return &Action{
			Purpose: models.PurposeJobPackage,
			Route:   RouteJobPublish,
		}
	}
}

// chatDeepLink builds a wa.me URI for an E.164 phone with a prefilled
// greeting referencing the unlocked contact's name.
func chatDeepLink(phone, name string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)

	message := fmt.Sprintf(contactGreeting, name)
	return "https://wa.me/" + digits + "?text=" + url.QueryEscape(message)
}
