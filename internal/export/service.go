// Package export renders a spreadsheet snapshot of a service's published
// configuration. One sheet per feature, one row per value variant.
package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/domain"
	"github.com/stackbound/varstore/internal/permission"
	"github.com/stackbound/varstore/internal/store"
)

type Service struct {
	store  *store.Store
	perms  *permission.Engine
	logger *zap.Logger
}

func NewService(st *store.Store, perms *permission.Engine, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		perms:  perms,
		logger: logger.Named("export"),
	}
}

// Snapshot builds a workbook of the service's published configuration. The
// caller needs read permission on the service; unreadable data never leaves
// the store. Drafts are not included.
func (s *Service) Snapshot(ctx context.Context, principalID, serviceID uuid.UUID) (*excelize.File, string, error) {
	service, err := s.store.Entity(ctx, serviceID)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	if service.Kind != domain.EntityKindService {
		return nil, "", trace.BadParameter("entity %s is not a service", serviceID)
	}
	if err := s.perms.Require(ctx, principalID, domain.PermissionRead, domain.ServiceScope(serviceID), nil); err != nil {
		return nil, "", trace.Wrap(err)
	}
	serviceVersion, err := s.store.CurrentVersion(ctx, serviceID)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}

	book := excelize.NewFile()
	features, err := s.store.ListChildren(ctx, serviceID)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	wroteSheet := false
	for _, feature := range features {
		featureVersion, err := s.store.CurrentVersion(ctx, feature.ID)
		if err != nil {
			if trace.IsNotFound(err) {
				continue // draft-only feature, nothing published yet
			}
			return nil, "", trace.Wrap(err)
		}
		sheet := sheetName(featureVersion.Name, feature.ID)
		if _, err := book.NewSheet(sheet); err != nil {
			return nil, "", trace.Wrap(err)
		}
		if err := s.writeFeatureSheet(ctx, book, sheet, feature); err != nil {
			return nil, "", trace.Wrap(err)
		}
		wroteSheet = true
	}
	if wroteSheet {
		if err := book.DeleteSheet("Sheet1"); err != nil {
			return nil, "", trace.Wrap(err)
		}
	}

	filename := fmt.Sprintf("%s-snapshot.xlsx", sanitizeFileComponent(serviceVersion.Name))
	s.logger.Info("built configuration snapshot",
		zap.String("service_id", serviceID.String()),
		zap.Int("features", len(features)))
	return book, filename, nil
}

func (s *Service) writeFeatureSheet(ctx context.Context, book *excelize.File, sheet string, feature domain.Entity) error {
	header := []any{"Key", "Type", "Variation", "Value", "Description"}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return trace.Wrap(err)
	}
	keys, err := s.store.ListChildren(ctx, feature.ID)
	if err != nil {
		return trace.Wrap(err)
	}
	row := 2
	for _, key := range keys {
		keyVersion, err := s.store.CurrentVersion(ctx, key.ID)
		if err != nil {
			if trace.IsNotFound(err) {
				continue
			}
			return trace.Wrap(err)
		}
		values, err := s.store.ValuesForVersion(ctx, keyVersion.ID)
		if err != nil {
			return trace.Wrap(err)
		}
		if len(values) == 0 {
			cells := []any{keyVersion.Name, string(key.ValueType), "", "", keyVersion.Description}
			if err := book.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &cells); err != nil {
				return trace.Wrap(err)
			}
			row++
			continue
		}
		for _, value := range values {
			variation := value.Assignment.Canonical()
			if variation == "" {
				variation = "(default)"
			}
			cells := []any{keyVersion.Name, string(key.ValueType), variation, value.Raw, keyVersion.Description}
			if err := book.SetSheetRow(sheet, fmt.Sprintf("A%d", row), &cells); err != nil {
				return trace.Wrap(err)
			}
			row++
		}
	}
	return nil
}

// Sheet names are capped at 31 characters by the xlsx format; the entity ID
// suffix keeps duplicate feature names apart.
func sheetName(name string, id uuid.UUID) string {
	base := sanitizeSheetComponent(name)
	suffix := id.String()[:8]
	const maxLen = 31
	if len(base)+len(suffix)+1 > maxLen {
		base = base[:maxLen-len(suffix)-1]
	}
	return base + "-" + suffix
}

func sanitizeSheetComponent(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "feature"
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			builder.WriteRune('-')
		default:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "service"
	}
	return result
}
