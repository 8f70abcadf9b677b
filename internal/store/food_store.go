package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"foodlog/internal/models"
)

const foodItemColumns = `id, name, brand, default_serving_weight_gram, default_serving_liquid_ml,
	is_liquid, weight_unknown, kcal_per_serving, total_fat_per_serving, sat_fat_per_serving,
	trans_fat_per_serving, carb_per_serving, sugar_per_serving, added_sugar_per_serving,
	protein_per_serving, fiber_per_serving, food_info_source, external_id,
	name_embedding, message_embedding, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFoodItem(row rowScanner) (*models.FoodItem, error) {
	var f models.FoodItem
	var brand, externalID sql.NullString
	var defWeight, defLiquid, kcal, fat, satFat, transFat, carb, sugar, addedSugar, protein, fiber sql.NullFloat64
	var nameEmb, msgEmb []byte
	var source string

	err := row.Scan(&f.ID, &f.Name, &brand, &defWeight, &defLiquid,
		&f.IsLiquid, &f.WeightUnknown, &kcal, &fat, &satFat,
		&transFat, &carb, &sugar, &addedSugar,
		&protein, &fiber, &source, &externalID,
		&nameEmb, &msgEmb, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}

	f.Brand = nullString(brand)
	f.ExternalID = nullString(externalID)
	f.FoodInfoSource = models.FoodInfoSource(source)
	f.DefaultServingWeightGram = nullFloat(defWeight)
	f.DefaultServingLiquidMl = nullFloat(defLiquid)
	f.KcalPerServing = nullFloat(kcal)
	f.TotalFatPerServing = nullFloat(fat)
	f.SatFatPerServing = nullFloat(satFat)
	f.TransFatPerServing = nullFloat(transFat)
	f.CarbPerServing = nullFloat(carb)
	f.SugarPerServing = nullFloat(sugar)
	f.AddedSugarPerServing = nullFloat(addedSugar)
	f.ProteinPerServing = nullFloat(protein)
	f.FiberPerServing = nullFloat(fiber)
	f.NameEmbedding = decodeEmbedding(nameEmb)
	f.MessageEmbedding = decodeEmbedding(msgEmb)
	return &f, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// GetFoodItem loads a FoodItem with its nutrients and servings
func (s *SQLStore) GetFoodItem(ctx context.Context, id int64) (*models.FoodItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+foodItemColumns+` FROM food_items WHERE id = ?`, id)
	item, err := scanFoodItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query food item %d: %w", id, err)
	}

	if err := s.loadRelations(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *SQLStore) loadRelations(ctx context.Context, item *models.FoodItem) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, food_item_id, nutrient_name, nutrient_unit, nutrient_amount_per_default_serving
		FROM nutrients WHERE food_item_id = ? ORDER BY id
	`, item.ID)
	if err != nil {
		return fmt.Errorf("failed to query nutrients: %w", err)
	}
	for rows.Next() {
		var n models.Nutrient
		if err := rows.Scan(&n.ID, &n.FoodItemID, &n.NutrientName, &n.NutrientUnit, &n.NutrientAmountPerDefaultServing); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan nutrient: %w", err)
		}
		item.Nutrients = append(item.Nutrients, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT id, food_item_id, serving_weight_gram, serving_name, serving_alternate_amount,
			serving_alternate_unit, default_serving_amount
		FROM servings WHERE food_item_id = ? ORDER BY id
	`, item.ID)
	if err != nil {
		return fmt.Errorf("failed to query servings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sv models.Serving
		var weight, altAmount, defAmount sql.NullFloat64
		var altUnit sql.NullString
		if err := rows.Scan(&sv.ID, &sv.FoodItemID, &weight, &sv.ServingName, &altAmount, &altUnit, &defAmount); err != nil {
			return fmt.Errorf("failed to scan serving: %w", err)
		}
		sv.ServingWeightGram = nullFloat(weight)
		sv.ServingAlternateAmount = nullFloat(altAmount)
		sv.ServingAlternateUnit = nullString(altUnit)
		sv.DefaultServingAmount = nullFloat(defAmount)
		item.Servings = append(item.Servings, sv)
	}
	return rows.Err()
}

// InsertFoodItem stores a FoodItem together with its nutrients and servings
// in one transaction. Duplicate nutrient names keep the last row.
func (s *SQLStore) InsertFoodItem(ctx context.Context, item *models.FoodItem) (int64, error) {
	if err := item.Validate(); err != nil {
		return 0, err
	}

	nameEmb, err := encodeEmbedding(item.NameEmbedding)
	if err != nil {
		return 0, fmt.Errorf("failed to encode name embedding: %w", err)
	}
	msgEmb, err := encodeEmbedding(item.MessageEmbedding)
	if err != nil {
		return 0, fmt.Errorf("failed to encode message embedding: %w", err)
	}
	if item.FoodInfoSource == "" {
		item.FoodInfoSource = models.SourceInternal
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO food_items (name, brand, default_serving_weight_gram, default_serving_liquid_ml,
			is_liquid, weight_unknown, kcal_per_serving, total_fat_per_serving, sat_fat_per_serving,
			trans_fat_per_serving, carb_per_serving, sugar_per_serving, added_sugar_per_serving,
			protein_per_serving, fiber_per_serving, food_info_source, external_id,
			name_embedding, message_embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.Name, item.Brand, item.DefaultServingWeightGram, item.DefaultServingLiquidMl,
		item.IsLiquid, item.WeightUnknown, item.KcalPerServing, item.TotalFatPerServing, item.SatFatPerServing,
		item.TransFatPerServing, item.CarbPerServing, item.SugarPerServing, item.AddedSugarPerServing,
		item.ProteinPerServing, item.FiberPerServing, string(item.FoodInfoSource), item.ExternalID,
		nameEmb, msgEmb, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert food item: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get food item id: %w", err)
	}

	nutrients := make(map[string]models.Nutrient, len(item.Nutrients))
	order := make([]string, 0, len(item.Nutrients))
	for _, n := range item.Nutrients {
		if _, seen := nutrients[n.NutrientName]; !seen {
			order = append(order, n.NutrientName)
		}
		nutrients[n.NutrientName] = n
	}
	for _, name := range order {
		n := nutrients[name]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO nutrients (food_item_id, nutrient_name, nutrient_unit, nutrient_amount_per_default_serving)
			VALUES (?, ?, ?, ?)
		`, id, n.NutrientName, n.NutrientUnit, n.NutrientAmountPerDefaultServing); err != nil {
			return 0, fmt.Errorf("failed to insert nutrient %q: %w", n.NutrientName, err)
		}
	}

	for _, sv := range item.Servings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO servings (food_item_id, serving_weight_gram, serving_name, serving_alternate_amount,
				serving_alternate_unit, default_serving_amount)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, sv.ServingWeightGram, sv.ServingName, sv.ServingAlternateAmount,
			sv.ServingAlternateUnit, sv.DefaultServingAmount); err != nil {
			return 0, fmt.Errorf("failed to insert serving %q: %w", sv.ServingName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit food item: %w", err)
	}

	item.ID = id
	item.CreatedAt = now
	item.UpdatedAt = now
	return id, nil
}

// FindFoodItemByExternalID returns the FoodItem imported from source with the given id
func (s *SQLStore) FindFoodItemByExternalID(ctx context.Context, source models.FoodInfoSource, externalID string) (*models.FoodItem, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM food_items WHERE food_info_source = ? AND external_id = ? ORDER BY id LIMIT 1
	`, string(source), externalID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query food item by external id: %w", err)
	}
	return s.GetFoodItem(ctx, id)
}

// SearchFoodItems ranks FoodItems by cosine similarity of the chosen
// embedding column against embedding and returns the k best.
func (s *SQLStore) SearchFoodItems(ctx context.Context, embedding []float32, column EmbeddingColumn, k int) ([]FoodCandidate, error) {
	if column != NameEmbedding && column != MessageEmbedding {
		return nil, fmt.Errorf("unknown embedding column %q", column)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, brand, food_info_source, external_id, `+string(column)+`
		FROM food_items WHERE `+string(column)+` IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query food embeddings: %w", err)
	}
	defer rows.Close()

	var scored []ranked[FoodCandidate]
	for rows.Next() {
		var c FoodCandidate
		var brand, externalID sql.NullString
		var source string
		var raw []byte
		if err := rows.Scan(&c.ID, &c.Name, &brand, &source, &externalID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan food embedding: %w", err)
		}
		c.Brand = brand.String
		c.ExternalID = externalID.String
		c.Source = models.FoodInfoSource(source)
		c.Similarity = CosineSimilarity(embedding, decodeEmbedding(raw))
		scored = append(scored, ranked[FoodCandidate]{value: c, score: c.Similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top := topK(scored, k)
	out := make([]FoodCandidate, 0, len(top))
	for _, r := range top {
		out = append(out, r.value)
	}
	return out, nil
}

// SearchUSDA ranks the USDA reference table against embedding
func (s *SQLStore) SearchUSDA(ctx context.Context, embedding []float32, k int) ([]USDACandidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fdc_id, description, brand_owner, embedding FROM usda_foods WHERE embedding IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query usda embeddings: %w", err)
	}
	defer rows.Close()

	var scored []ranked[USDACandidate]
	for rows.Next() {
		var c USDACandidate
		var brandOwner sql.NullString
		var raw []byte
		if err := rows.Scan(&c.FDCID, &c.Description, &brandOwner, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan usda embedding: %w", err)
		}
		c.BrandOwner = brandOwner.String
		c.Similarity = CosineSimilarity(embedding, decodeEmbedding(raw))
		scored = append(scored, ranked[USDACandidate]{value: c, score: c.Similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	top := topK(scored, k)
	out := make([]USDACandidate, 0, len(top))
	for _, r := range top {
		out = append(out, r.value)
	}
	return out, nil
}

// InsertUSDAFood adds or replaces a USDA reference row
func (s *SQLStore) InsertUSDAFood(ctx context.Context, food USDAFood) error {
	emb, err := encodeEmbedding(food.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode usda embedding: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM usda_foods WHERE fdc_id = ?`, food.FDCID); err != nil {
		return fmt.Errorf("failed to replace usda food: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO usda_foods (fdc_id, description, brand_owner, data_type, embedding)
		VALUES (?, ?, ?, ?, ?)
	`, food.FDCID, food.Description, food.BrandOwner, food.DataType, emb)
	if err != nil {
		return fmt.Errorf("failed to insert usda food: %w", err)
	}
	return nil
}

// ListFoodItems pages FoodItems by increasing id, without relations
func (s *SQLStore) ListFoodItems(ctx context.Context, afterID int64, limit int) ([]models.FoodItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+foodItemColumns+` FROM food_items WHERE id > ? ORDER BY id LIMIT ?
	`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list food items: %w", err)
	}
	defer rows.Close()

	var items []models.FoodItem
	for rows.Next() {
		item, err := scanFoodItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan food item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// UpdateFoodItemEmbeddings stores freshly computed embeddings. A nil vector
// leaves the stored one unchanged.
func (s *SQLStore) UpdateFoodItemEmbeddings(ctx context.Context, id int64, name, message []float32) error {
	nameEmb, err := encodeEmbedding(name)
	if err != nil {
		return err
	}
	msgEmb, err := encodeEmbedding(message)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE food_items
		SET name_embedding = COALESCE(?, name_embedding),
			message_embedding = COALESCE(?, message_embedding),
			updated_at = ?
		WHERE id = ?
	`, nameEmb, msgEmb, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update embeddings: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertFoodImage attaches an image to a FoodItem
func (s *SQLStore) InsertFoodImage(ctx context.Context, image models.FoodImage) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO food_images (food_item_id, url, downvotes) VALUES (?, ?, ?)
	`, image.FoodItemID, image.URL, image.Downvotes)
	if err != nil {
		return 0, fmt.Errorf("failed to insert food image: %w", err)
	}
	return result.LastInsertId()
}

// TopImages returns the least downvoted images, newest first among equals
func (s *SQLStore) TopImages(ctx context.Context, foodItemID int64, limit int) ([]models.FoodImage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, food_item_id, url, downvotes FROM food_images
		WHERE food_item_id = ?
		ORDER BY downvotes ASC, id DESC
		LIMIT ?
	`, foodItemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query food images: %w", err)
	}
	defer rows.Close()

	var images []models.FoodImage
	for rows.Next() {
		var img models.FoodImage
		if err := rows.Scan(&img.ID, &img.FoodItemID, &img.URL, &img.Downvotes); err != nil {
			return nil, fmt.Errorf("failed to scan food image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
