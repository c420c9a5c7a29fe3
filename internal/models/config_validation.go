package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/trobanga/pacsbatch/internal/dimse"
)

// configValidate is shared by all config validation. Custom tags are registered in init.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = configValidate.RegisterValidation("kind", validateKind)
	_ = configValidate.RegisterValidation("model", validateModel)
	_ = configValidate.RegisterValidation("aetitle", validateAETitle)
	_ = configValidate.RegisterValidation("clock", validateClock)
}

func validateKind(fl validator.FieldLevel) bool {
	_, err := ParseKind(fl.Field().String())
	return err == nil
}

func validateModel(fl validator.FieldLevel) bool {
	_, err := dimse.ParseModel(fl.Field().String())
	return err == nil
}

// AE titles are at most 16 characters without backslashes or control characters
func validateAETitle(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if strings.TrimSpace(v) == "" || len(v) > 16 {
		return false
	}
	for _, r := range v {
		if r < 0x20 || r == '\\' || r > 0x7E {
			return false
		}
	}
	return true
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := ParseClock(fl.Field().String())
	return err == nil
}

// ParseClock parses "HH:MM" into an offset from midnight
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Validate checks struct tags and cross-field constraints
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q validation (value %v)", configFieldName(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return err
	}

	if c.Request.Kind != "" {
		if kind, _ := ParseKind(c.Request.Kind); kind != KindVerify && c.Request.Model == "" {
			return fmt.Errorf("request.model is required for %s requests", kind)
		}
	}

	for _, e := range c.Request.Elements {
		if _, err := dimse.ParsePath(e); err != nil {
			return fmt.Errorf("request.elements: %w", err)
		}
	}

	if c.Schedule.Enabled && (c.Schedule.StartTime == "" || c.Schedule.EndTime == "") {
		return errors.New("schedule.start_time and schedule.end_time are required when the schedule is enabled")
	}

	if c.Output.DirectoryStructure != "" {
		for _, component := range strings.Split(c.Output.DirectoryStructure, "/") {
			if component == "" {
				continue
			}
			if _, err := dimse.ParsePath(component); err != nil {
				return fmt.Errorf("output.directory_structure: %w", err)
			}
		}
	}
	if _, err := dimse.ParsePath(c.Output.Filename); err != nil {
		return fmt.Errorf("output.filename: %w", err)
	}

	return nil
}

// RequirePeer checks the settings needed to open sessions
func (c *Config) RequirePeer() error {
	if c.Peer.AETitle == "" {
		return errors.New("peer.ae_title is required")
	}
	return nil
}

// RequireProvider checks that a network service provider is named
func (c *Config) RequireProvider() error {
	if strings.TrimSpace(c.Network.Provider) == "" {
		return errors.New("network.provider is required to open sessions or listen")
	}
	return nil
}

// configFieldName turns "Config.request.throttle_delay" into "request.throttle_delay"
func configFieldName(namespace string) string {
	_, field, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return field
}
