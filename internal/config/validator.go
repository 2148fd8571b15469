package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages if validation fails.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateApprovalChannel(); err != nil {
		return err
	}

	return nil
}

// validateApprovalChannel ensures a Slack bot token and channel are
// either both set or both empty, whatever the approval timeout --
// ThoughtGate's approval coordinator cannot function with only one of
// the two set.
func (c *Config) validateApprovalChannel() error {
	hasToken := c.Approval.SlackBotToken != ""
	hasChannel := c.Approval.SlackChannel != ""
	if hasToken != hasChannel {
		return errors.New("approval: slack_bot_token and slack_channel must both be set, or both left empty")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages, one per offending field.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
