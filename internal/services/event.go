package services

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Event 一次处理请求
type Event struct {
	SourceKey  string `json:"source_key" yaml:"source_key" validate:"required"`
	LensName   string `json:"lens_name" yaml:"lens_name" validate:"required"`
	Pillar     string `json:"pillar" yaml:"pillar" validate:"required"`
	SourceFile string `json:"source_file" yaml:"source_file" validate:"required"`
}

// validate 校验错误中使用JSON键名
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate 校验事件字段，全部为必填，纯空白视为缺失
func (e Event) Validate() error {
	trimmed := Event{
		SourceKey:  strings.TrimSpace(e.SourceKey),
		LensName:   strings.TrimSpace(e.LensName),
		Pillar:     strings.TrimSpace(e.Pillar),
		SourceFile: strings.TrimSpace(e.SourceFile),
	}

	err := validate.Struct(trimmed)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
}
