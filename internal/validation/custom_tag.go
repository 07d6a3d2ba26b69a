package validation

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Room and user identifiers are opaque strings at the signaling boundary;
// persisted numeric ids are coerced to strings before they reach this layer.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func init() {
	MustRegisterGin("voxid", ValidateID)
	MustRegisterGinAlias("channelname", "min=1,max=100")
	MustRegisterGinAlias("mediatype", "oneof=audio video screen spotify youtube")
}

// MustRegister installs the custom tags on a standalone validator
// instance, for callers that validate outside gin binding.
func MustRegister(v *validator.Validate) {
	if err := v.RegisterValidation("voxid", ValidateID); err != nil {
		panic(err)
	}
	v.RegisterAlias("channelname", "min=1,max=100")
	v.RegisterAlias("mediatype", "oneof=audio video screen spotify youtube")
}

// ValidateID validates room/user/stream ID format: 1-64 characters,
// alphanumeric with hyphens and underscores.
func ValidateID(fl validator.FieldLevel) bool {
	return idRegex.MatchString(fl.Field().String())
}
