package postgres

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/stackbound/varstore/internal/domain"
)

type variationRepository struct {
	q querier
}

func (r *variationRepository) Create(ctx context.Context, property domain.VariationProperty) (domain.VariationProperty, error) {
	_, err := r.q.Exec(ctx, `
		INSERT INTO variation_properties (id, name, display_name, created_at)
		VALUES ($1, $2, $3, $4)`,
		property.ID, property.Name, property.DisplayName, property.CreatedAt,
	)
	if err != nil {
		return domain.VariationProperty{}, convertError(err, "variation property %q not found", property.Name)
	}
	return property, nil
}

func (r *variationRepository) GetByName(ctx context.Context, name string) (domain.VariationProperty, error) {
	var property domain.VariationProperty
	row := r.q.QueryRow(ctx, `SELECT id, name, display_name, created_at FROM variation_properties WHERE name = $1`, name)
	if err := row.Scan(&property.ID, &property.Name, &property.DisplayName, &property.CreatedAt); err != nil {
		return domain.VariationProperty{}, convertError(err, "variation property %q not found", name)
	}
	return property, nil
}

func (r *variationRepository) List(ctx context.Context) ([]domain.VariationProperty, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, display_name, created_at FROM variation_properties ORDER BY name`)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()
	var result []domain.VariationProperty
	for rows.Next() {
		var property domain.VariationProperty
		if err := rows.Scan(&property.ID, &property.Name, &property.DisplayName, &property.CreatedAt); err != nil {
			return nil, trace.Wrap(err)
		}
		result = append(result, property)
	}
	return result, trace.Wrap(rows.Err())
}
