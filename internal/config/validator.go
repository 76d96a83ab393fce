package config

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"

	sferrors "github.com/stageflow/stageflow/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern    = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?$`)
	stageNamePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// validatorInstance configures and returns the shared validator used across
// the config package.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("stage_name", func(fl validator.FieldLevel) bool {
			return stageNamePattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})
	return validateInst
}

// Validate checks a parsed config's structural invariants. Graph-level
// invariants (missing deps, cycles) are checked when the graph is built.
func Validate(cfg *Config) error {
	if cfg == nil {
		return sferrors.NewValidationError("", "config is nil", nil)
	}
	if err := validatorInstance().Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return sferrors.NewValidationError("",
				fmt.Sprintf("field %s failed %q validation", first.Namespace(), first.Tag()), err)
		}
		return sferrors.NewValidationError("", err.Error(), err)
	}

	seen := make(map[string]struct{}, len(cfg.Stages))
	for _, st := range cfg.Stages {
		if _, dup := seen[st.Name]; dup {
			return sferrors.NewValidationError(sferrors.CodeConflict,
				fmt.Sprintf("stage %q declared twice", st.Name), nil)
		}
		seen[st.Name] = struct{}{}
	}
	return nil
}
