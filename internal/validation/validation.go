package validation

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func MustRegisterGin(tag string, fn validator.Func) {
	if err := RegisterGin(tag, fn); err != nil {
		panic(err)
	}
}

func MustRegisterGinAlias(tag string, alias string) {
	if err := RegisterGinAlias(tag, alias); err != nil {
		panic(err)
	}
}

func RegisterGin(tag string, fn validator.Func) error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		return v.RegisterValidation(tag, fn)
	}
	return errors.New("validator engine is not of type *validator.Validate")
}

func RegisterGinAlias(tag string, alias string) error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterAlias(tag, alias)
		return nil
	}
	return errors.New("validator engine is not of type *validator.Validate")
}
