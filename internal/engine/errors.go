package engine

import (
	"errors"
	"fmt"

	"github.com/pagemule/pagemule/internal/notion"
	"github.com/pagemule/pagemule/internal/property"
	"github.com/pagemule/pagemule/pkg/models"
)

// InvalidRelationTargetError reports a link target that does not
// resolve to an existing page. Raised before any write is issued.
type InvalidRelationTargetError struct {
	Target string
}

func (e *InvalidRelationTargetError) Error() string {
	return fmt.Sprintf("relation target %q does not resolve to an existing page", e.Target)
}

// BadRequestError covers malformed operation arguments: unknown op
// kinds, missing required fields, unparseable args payloads.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string { return e.Reason }

// WarnAmbiguousUpsert is attached when an upsert query matched more
// than one page; the earliest-created page was chosen.
const WarnAmbiguousUpsert = "ambiguous upsert target: multiple pages matched the unique property; updated the earliest-created match"

// Describe maps an operation error to its serializable detail. The
// taxonomy is stable so callers can branch on Code.
func Describe(err error) models.ErrorDetail {
	var (
		invalid   *property.InvalidValueError
		readOnly  *property.ReadOnlyError
		badTarget *InvalidRelationTargetError
		badReq    *BadRequestError
		api       *notion.APIError
	)
	switch {
	case errors.As(err, &invalid):
		return models.ErrorDetail{Code: "invalid_property_value", Message: invalid.Error()}
	case errors.As(err, &readOnly):
		return models.ErrorDetail{Code: "read_only_property", Message: readOnly.Error()}
	case errors.As(err, &badTarget):
		return models.ErrorDetail{Code: "invalid_relation_target", Message: badTarget.Error()}
	case errors.As(err, &badReq):
		return models.ErrorDetail{Code: "bad_request", Message: badReq.Error()}
	case errors.As(err, &api):
		return models.ErrorDetail{Code: "remote_api_error", Message: api.Error(), Status: api.Status}
	default:
		return models.ErrorDetail{Code: "internal", Message: err.Error()}
	}
}
