package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun/driver/pgdriver"

	"contest-rating-service/internal/domain"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// constraintErrors maps named constraints from the schema to domain errors.
var constraintErrors = map[string]error{
	"contests_slug_key":                domain.Validationf("contest slug already taken"),
	"coders_nickname_key":              domain.ErrDuplicateCoder,
	"coders_display_name_key":          domain.ErrDuplicateCoder,
	"problems_contest_code_key":        domain.ErrDuplicateProblem,
	"submissions_attempt_key":          domain.ErrDuplicateAttempt,
	"rating_changes_coder_contest_key": domain.ErrAlreadyFinalized,
	"problems_contest_id_fkey":         domain.ErrContestNotFound,
	"submissions_contest_id_fkey":      domain.ErrContestNotFound,
	"submissions_problem_id_fkey":      domain.ErrProblemNotFound,
	"submissions_coder_id_fkey":        domain.ErrCoderNotFound,
	"rating_changes_coder_id_fkey":     domain.ErrCoderNotFound,
	"rating_changes_contest_id_fkey":   domain.ErrContestNotFound,
}

// translate converts driver errors into domain errors; notFound is used for sql.ErrNoRows.
func translate(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) && notFound != nil {
		return notFound
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		code := pgErr.Field('C')
		if code == codeUniqueViolation || code == codeForeignKeyViolation {
			if mapped, ok := constraintErrors[pgErr.Field('n')]; ok {
				return fmt.Errorf("%w: %s", mapped, pgErr.Field('M'))
			}
		}
	}
	return err
}
