package server

import (
	"net/url"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("absoluteurl", absoluteURL)
	}
}

// absoluteURL accepts only http(s) URLs with a host; handoff links are
// built by overlaying query parameters on the page URL, which only works
// on an absolute origin.
func absoluteURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
