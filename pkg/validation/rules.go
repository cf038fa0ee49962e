package validation

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var branchIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// registerRules регистрирует теги, которые мы используем в struct tags
func registerRules(v *validator.Validate) error {
	if err := v.RegisterValidation("service_date", isServiceDate); err != nil {
		return err
	}
	if err := v.RegisterValidation("branch_id", isBranchID); err != nil {
		return err
	}
	return nil
}

// isServiceDate - календарная дата вида 2025-08-07
func isServiceDate(fl validator.FieldLevel) bool {
	_, err := time.Parse("2006-01-02", fl.Field().String())
	return err == nil
}

// isBranchID - идентификатор филиала SmartMoving
func isBranchID(fl validator.FieldLevel) bool {
	return branchIDPattern.MatchString(fl.Field().String())
}
