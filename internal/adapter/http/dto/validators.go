package dto

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var safeStringRe = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]+$`)

// PatchOpReplace is the only supported patch operation.
const PatchOpReplace = "REPLACE"

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("safe_id", validateSafeID)
		_ = v.RegisterValidation("patch_op", validatePatchOp)
	}
}

// validateSafeID allows alphanumeric, underscore, dash, and dot.
func validateSafeID(fl validator.FieldLevel) bool {
	return safeStringRe.MatchString(fl.Field().String())
}

// validatePatchOp accepts "replace" in any case.
func validatePatchOp(fl validator.FieldLevel) bool {
	return strings.EqualFold(fl.Field().String(), PatchOpReplace)
}
