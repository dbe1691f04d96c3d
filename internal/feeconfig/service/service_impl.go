package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/feeledger/internal/clock"
	"github.com/smallbiznis/feeledger/internal/feeconfig/domain"
	"github.com/smallbiznis/feeledger/internal/feeerr"
	"github.com/smallbiznis/feeledger/internal/latefee"
	"github.com/smallbiznis/feeledger/internal/period"
	"github.com/smallbiznis/feeledger/internal/schoolctx"
	"github.com/smallbiznis/feeledger/pkg/db"
	"github.com/smallbiznis/feeledger/pkg/db/option"
	"github.com/smallbiznis/feeledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Usage domain.StructureUsage `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	usage domain.StructureUsage

	categories repository.Repository[domain.FeeCategory]
	structures repository.Repository[domain.FeeStructure]
}

func NewService(p ServiceParam) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("feeconfig.service"),
		genID: p.GenID,
		clock: clk,
		usage: p.Usage,

		categories: repository.ProvideStore[domain.FeeCategory](p.DB),
		structures: repository.ProvideStore[domain.FeeStructure](p.DB),
	}
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CreateCategoryRequest) (domain.FeeCategory, error) {
	schoolID, err := s.schoolID(ctx)
	if err != nil {
		return domain.FeeCategory{}, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.FeeCategory{}, domain.ErrInvalidCategoryName
	}
	categoryType := domain.CategoryType(strings.ToUpper(strings.TrimSpace(string(req.Type))))
	if !categoryType.Valid() {
		return domain.FeeCategory{}, domain.ErrInvalidCategoryType
	}
	frequency := domain.Frequency(strings.ToUpper(strings.TrimSpace(string(req.Frequency))))
	if !frequency.Valid() {
		return domain.FeeCategory{}, domain.ErrInvalidFrequency
	}
	mandatory := true
	if req.IsMandatory != nil {
		mandatory = *req.IsMandatory
	}

	now := s.clock.Now()
	category := domain.FeeCategory{
		ID:          s.genID.Generate(),
		SchoolID:    schoolID,
		Code:        slug.Make(name),
		Name:        name,
		Type:        categoryType,
		Frequency:   frequency,
		IsMandatory: mandatory,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.categories.Create(ctx, &category); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.FeeCategory{}, domain.ErrCategoryCodeTaken
		}
		return domain.FeeCategory{}, feeerr.Wrap(err, "create fee category")
	}

	s.log.Info("fee category created",
		zap.String("category_id", category.ID.String()),
		zap.String("code", category.Code),
		zap.String("frequency", string(category.Frequency)),
	)
	return category, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id snowflake.ID, req domain.UpdateCategoryRequest) (domain.FeeCategory, error) {
	category, err := s.GetCategory(ctx, id)
	if err != nil {
		return domain.FeeCategory{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.FeeCategory{}, domain.ErrInvalidCategoryName
		}
		category.Name = name
	}
	if req.Type != nil {
		categoryType := domain.CategoryType(strings.ToUpper(strings.TrimSpace(string(*req.Type))))
		if !categoryType.Valid() {
			return domain.FeeCategory{}, domain.ErrInvalidCategoryType
		}
		category.Type = categoryType
	}
	if req.IsMandatory != nil {
		category.IsMandatory = *req.IsMandatory
	}
	category.UpdatedAt = s.clock.Now()

	if err := s.categories.Save(ctx, &category); err != nil {
		return domain.FeeCategory{}, feeerr.Wrap(err, "update fee category")
	}
	return category, nil
}

func (s *Service) DeactivateCategory(ctx context.Context, id snowflake.ID) (domain.FeeCategory, error) {
	category, err := s.GetCategory(ctx, id)
	if err != nil {
		return domain.FeeCategory{}, err
	}
	if !category.Active {
		return category, nil
	}

	category.Active = false
	category.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).
		Model(&domain.FeeCategory{}).
		Where("id = ? AND school_id = ?", category.ID, category.SchoolID).
		Updates(map[string]any{"active": false, "updated_at": category.UpdatedAt}).Error; err != nil {
		return domain.FeeCategory{}, feeerr.Wrap(err, "deactivate fee category")
	}

	s.log.Info("fee category deactivated", zap.String("category_id", category.ID.String()))
	return category, nil
}

func (s *Service) GetCategory(ctx context.Context, id snowflake.ID) (domain.FeeCategory, error) {
	schoolID, err := s.schoolID(ctx)
	if err != nil {
		return domain.FeeCategory{}, err
	}
	category, err := s.categories.FindOne(ctx, &domain.FeeCategory{ID: id, SchoolID: schoolID})
	if err != nil {
		return domain.FeeCategory{}, feeerr.Wrap(err, "load fee category")
	}
	if category == nil {
		return domain.FeeCategory{}, domain.ErrCategoryNotFound
	}
	return *category, nil
}

func (s *Service) ListCategories(ctx context.Context, req domain.ListCategoriesRequest) ([]domain.FeeCategory, error) {
	schoolID, err := s.schoolID(ctx)
	if err != nil {
		return nil, err
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "name", Allow: map[string]bool{"name": true}}),
	}
	if !req.IncludeInactive {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "active", Operator: option.EQ, Value: true}))
	}

	rows, err := s.categories.Find(ctx, &domain.FeeCategory{SchoolID: schoolID}, opts...)
	if err != nil {
		return nil, feeerr.Wrap(err, "list fee categories")
	}
	out := make([]domain.FeeCategory, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

func (s *Service) CreateStructure(ctx context.Context, req domain.CreateStructureRequest) (domain.FeeStructure, error) {
	schoolID, err := s.schoolID(ctx)
	if err != nil {
		return domain.FeeStructure{}, err
	}

	academicYear := strings.TrimSpace(req.AcademicYear)
	if academicYear == "" {
		return domain.FeeStructure{}, domain.ErrInvalidAcademicYear
	}
	if req.ClassID == 0 {
		return domain.FeeStructure{}, domain.ErrInvalidClass
	}
	if req.Amount < 0 {
		return domain.FeeStructure{}, domain.ErrInvalidAmount
	}
	if req.DueDateDay < 1 || req.DueDateDay > 31 {
		return domain.FeeStructure{}, domain.ErrInvalidDueDateDay
	}
	penaltyType, err := latefee.ParsePenaltyType(req.LateFeePenaltyType)
	if err != nil {
		return domain.FeeStructure{}, err
	}
	rule := latefee.Rule{GraceDays: req.LateFeeGraceDays, Type: penaltyType, Value: req.LateFeePenaltyValue}
	if err := rule.Validate(); err != nil {
		return domain.FeeStructure{}, err
	}
	effectiveFrom, err := parseEffectiveFrom(req.EffectiveFrom)
	if err != nil {
		return domain.FeeStructure{}, err
	}

	category, err := s.GetCategory(ctx, req.CategoryID)
	if err != nil {
		return domain.FeeStructure{}, err
	}
	if !category.Active {
		return domain.FeeStructure{}, domain.ErrCategoryInactive
	}

	now := s.clock.Now()
	structure := domain.FeeStructure{
		ID:                  s.genID.Generate(),
		SchoolID:            schoolID,
		AcademicYear:        academicYear,
		ClassID:             req.ClassID,
		CategoryID:          category.ID,
		Amount:              req.Amount,
		DueDateDay:          req.DueDateDay,
		LateFeeGraceDays:    rule.GraceDays,
		LateFeePenaltyType:  rule.Type,
		LateFeePenaltyValue: rule.Value,
		EffectiveFromPeriod: effectiveFrom,
		Active:              true,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []domain.FeeStructure
		if err := db.ForUpdate(tx).
			Where("school_id = ? AND academic_year = ? AND class_id = ? AND category_id = ? AND active = ?",
				schoolID, academicYear, req.ClassID, category.ID, true).
			Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			return domain.ErrActiveStructureTaken
		}
		return tx.Create(&structure).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.FeeStructure{}, domain.ErrActiveStructureTaken
		}
		return domain.FeeStructure{}, feeerr.Wrap(err, "create fee structure")
	}

	structure.Category = category
	s.log.Info("fee structure created",
		zap.String("structure_id", structure.ID.String()),
		zap.String("academic_year", academicYear),
		zap.String("class_id", req.ClassID.String()),
		zap.String("category", category.Code),
		zap.Int64("amount", structure.Amount),
	)
	return structure, nil
}

// AmendStructure edits a structure in place while it is unbilled. Once a fee
// record references it, the structure is closed at the next unbilled period
// and a successor carrying the new terms takes over from there. The closed
// structure keeps pricing the periods before the successor.
func (s *Service) AmendStructure(ctx context.Context, id snowflake.ID, req domain.AmendStructureRequest) (domain.FeeStructure, error) {
	current, err := s.GetStructure(ctx, id)
	if err != nil {
		return domain.FeeStructure{}, err
	}
	if !current.Active {
		return domain.FeeStructure{}, domain.ErrStructureInactive
	}

	amended, err := applyAmendment(current, req)
	if err != nil {
		return domain.FeeStructure{}, err
	}
	requestedFrom, err := parseEffectiveFrom(req.EffectiveFrom)
	if err != nil {
		return domain.FeeStructure{}, err
	}

	lastBilled, billed := 0, false
	if s.usage != nil {
		lastBilled, billed, err = s.usage.LastBilledPeriod(ctx, current.SchoolID, current.ID)
		if err != nil {
			return domain.FeeStructure{}, feeerr.Wrap(err, "check fee structure usage")
		}
	}

	now := s.clock.Now()
	var result domain.FeeStructure
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked domain.FeeStructure
		if err := db.ForUpdate(tx).
			Where("id = ? AND school_id = ?", current.ID, current.SchoolID).
			First(&locked).Error; err != nil {
			return err
		}
		if !locked.Active {
			return domain.ErrStructureInactive
		}
		if locked.Version != current.Version {
			return feeerr.Conflict("version_mismatch", "fee structure changed concurrently", nil)
		}

		if !billed {
			amended.EffectiveFromPeriod = max(locked.EffectiveFromPeriod, requestedFrom)
			amended.Version = locked.Version + 1
			amended.UpdatedAt = now
			res := tx.Model(&domain.FeeStructure{}).
				Where("id = ? AND version = ?", locked.ID, locked.Version).
				Updates(map[string]any{
					"amount":                 amended.Amount,
					"due_date_day":           amended.DueDateDay,
					"late_fee_grace_days":    amended.LateFeeGraceDays,
					"late_fee_penalty_type":  amended.LateFeePenaltyType,
					"late_fee_penalty_value": amended.LateFeePenaltyValue,
					"effective_from_period":  amended.EffectiveFromPeriod,
					"version":                amended.Version,
					"updated_at":             now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return feeerr.Conflict("version_mismatch", "fee structure changed concurrently", nil)
			}
			if amended.EffectiveFromPeriod != locked.EffectiveFromPeriod {
				// The predecessor prices every period up to this structure.
				if err := tx.Model(&domain.FeeStructure{}).
					Where("school_id = ? AND superseded_by = ?", locked.SchoolID, locked.ID).
					Updates(map[string]any{"effective_to_period": amended.EffectiveFromPeriod, "updated_at": now}).Error; err != nil {
					return err
				}
			}
			result = amended
			return nil
		}

		successor := amended
		successor.ID = s.genID.Generate()
		successor.EffectiveFromPeriod = max(requestedFrom, lastBilled+1, locked.EffectiveFromPeriod)
		successor.SupersededBy = nil
		successor.Active = true
		successor.Version = 1
		successor.CreatedAt = now
		successor.UpdatedAt = now

		res := tx.Model(&domain.FeeStructure{}).
			Where("id = ? AND version = ?", locked.ID, locked.Version).
			Updates(map[string]any{
				"active":              false,
				"superseded_by":       successor.ID,
				"effective_to_period": successor.EffectiveFromPeriod,
				"version":             locked.Version + 1,
				"updated_at":          now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return feeerr.Conflict("version_mismatch", "fee structure changed concurrently", nil)
		}
		if err := tx.Create(&successor).Error; err != nil {
			return err
		}
		result = successor
		return nil
	})
	if err != nil {
		return domain.FeeStructure{}, feeerr.Wrap(err, "amend fee structure")
	}

	result.Category = current.Category
	s.log.Info("fee structure amended",
		zap.String("structure_id", current.ID.String()),
		zap.String("result_id", result.ID.String()),
		zap.Bool("superseded", billed),
		zap.Int("effective_from_period", result.EffectiveFromPeriod),
	)
	return result, nil
}

func (s *Service) DeactivateStructure(ctx context.Context, id snowflake.ID) (domain.FeeStructure, error) {
	structure, err := s.GetStructure(ctx, id)
	if err != nil {
		return domain.FeeStructure{}, err
	}
	if !structure.Active {
		return structure, nil
	}

	now := s.clock.Now()
	res := s.db.WithContext(ctx).
		Model(&domain.FeeStructure{}).
		Where("id = ? AND school_id = ? AND version = ?", structure.ID, structure.SchoolID, structure.Version).
		Updates(map[string]any{"active": false, "version": structure.Version + 1, "updated_at": now})
	if res.Error != nil {
		return domain.FeeStructure{}, feeerr.Wrap(res.Error, "deactivate fee structure")
	}
	if res.RowsAffected == 0 {
		return domain.FeeStructure{}, feeerr.Conflict("version_mismatch", "fee structure changed concurrently", nil)
	}

	structure.Active = false
	structure.Version++
	structure.UpdatedAt = now
	return structure, nil
}

func (s *Service) GetStructure(ctx context.Context, id snowflake.ID) (domain.FeeStructure, error) {
	schoolID, err := s.schoolID(ctx)
	if err != nil {
		return domain.FeeStructure{}, err
	}
	structure, err := s.structures.FindOne(ctx, &domain.FeeStructure{ID: id, SchoolID: schoolID})
	if err != nil {
		return domain.FeeStructure{}, feeerr.Wrap(err, "load fee structure")
	}
	if structure == nil {
		return domain.FeeStructure{}, domain.ErrStructureNotFound
	}
	withCategories, err := s.attachCategories(ctx, schoolID, []domain.FeeStructure{*structure}, false)
	if err != nil {
		return domain.FeeStructure{}, err
	}
	return withCategories[0], nil
}

func (s *Service) ListStructures(ctx context.Context, req domain.ListStructuresRequest) ([]domain.FeeStructure, error) {
	schoolID, err := s.schoolID(ctx)
	if err != nil {
		return nil, err
	}

	filter := &domain.FeeStructure{SchoolID: schoolID, AcademicYear: strings.TrimSpace(req.AcademicYear), ClassID: req.ClassID}
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{SortBy: "effective_from_period", Allow: map[string]bool{"effective_from_period": true}}),
	}
	if !req.IncludeInactive {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "active", Operator: option.EQ, Value: true}))
	}

	rows, err := s.structures.Find(ctx, filter, opts...)
	if err != nil {
		return nil, feeerr.Wrap(err, "list fee structures")
	}
	structures := make([]domain.FeeStructure, 0, len(rows))
	for _, row := range rows {
		structures = append(structures, *row)
	}
	return s.attachCategories(ctx, schoolID, structures, false)
}

func (s *Service) GetActiveStructures(ctx context.Context, academicYear string, classID snowflake.ID, p period.Period) ([]domain.FeeStructure, error) {
	schoolID, err := s.schoolID(ctx)
	if err != nil {
		return nil, err
	}

	var rows []domain.FeeStructure
	if err := s.db.WithContext(ctx).
		Where("school_id = ? AND academic_year = ? AND class_id = ? AND effective_from_period <= ?",
			schoolID, strings.TrimSpace(academicYear), classID, p.Ordinal()).
		Where("((active = ? AND effective_to_period IS NULL) OR effective_to_period > ?)", true, p.Ordinal()).
		Find(&rows).Error; err != nil {
		return nil, feeerr.Wrap(err, "load active fee structures")
	}

	structures, err := s.attachCategories(ctx, schoolID, rows, true)
	if err != nil {
		return nil, err
	}
	if len(structures) == 0 {
		return nil, domain.ErrStructuresNotFound
	}

	sort.SliceStable(structures, func(i, j int) bool {
		if structures[i].Category.Name != structures[j].Category.Name {
			return structures[i].Category.Name < structures[j].Category.Name
		}
		return structures[i].ID < structures[j].ID
	})
	return structures, nil
}

// Snapshot copies the active structures once. A class with nothing billable
// yields an empty snapshot rather than an error.
func (s *Service) Snapshot(ctx context.Context, academicYear string, classID snowflake.ID, p period.Period) (domain.Snapshot, error) {
	schoolID, err := s.schoolID(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snapshot := domain.Snapshot{
		SchoolID:     schoolID,
		AcademicYear: strings.TrimSpace(academicYear),
		ClassID:      classID,
		PeriodOrd:    p.Ordinal(),
	}

	structures, err := s.GetActiveStructures(ctx, academicYear, classID, p)
	if err != nil {
		if domain.IsNoStructures(err) {
			return snapshot, nil
		}
		return domain.Snapshot{}, err
	}
	snapshot.Structures = append([]domain.FeeStructure(nil), structures...)
	return snapshot, nil
}

func (s *Service) attachCategories(ctx context.Context, schoolID snowflake.ID, structures []domain.FeeStructure, activeOnly bool) ([]domain.FeeStructure, error) {
	if len(structures) == 0 {
		return structures, nil
	}
	ids := make([]snowflake.ID, 0, len(structures))
	for _, st := range structures {
		ids = append(ids, st.CategoryID)
	}

	var categories []domain.FeeCategory
	if err := s.db.WithContext(ctx).
		Where("school_id = ? AND id IN ?", schoolID, ids).
		Find(&categories).Error; err != nil {
		return nil, feeerr.Wrap(err, "load fee categories")
	}
	byID := make(map[snowflake.ID]domain.FeeCategory, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	out := make([]domain.FeeStructure, 0, len(structures))
	for _, st := range structures {
		category, ok := byID[st.CategoryID]
		if !ok || (activeOnly && !category.Active) {
			continue
		}
		st.Category = category
		out = append(out, st)
	}
	return out, nil
}

func (s *Service) schoolID(ctx context.Context) (snowflake.ID, error) {
	schoolID, ok := schoolctx.SchoolIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrInvalidSchool
	}
	return schoolID, nil
}

func applyAmendment(current domain.FeeStructure, req domain.AmendStructureRequest) (domain.FeeStructure, error) {
	amended := current
	if req.Amount != nil {
		if *req.Amount < 0 {
			return domain.FeeStructure{}, domain.ErrInvalidAmount
		}
		amended.Amount = *req.Amount
	}
	if req.DueDateDay != nil {
		if *req.DueDateDay < 1 || *req.DueDateDay > 31 {
			return domain.FeeStructure{}, domain.ErrInvalidDueDateDay
		}
		amended.DueDateDay = *req.DueDateDay
	}
	if req.LateFeeGraceDays != nil {
		amended.LateFeeGraceDays = *req.LateFeeGraceDays
	}
	if req.LateFeePenaltyType != nil {
		penaltyType, err := latefee.ParsePenaltyType(*req.LateFeePenaltyType)
		if err != nil {
			return domain.FeeStructure{}, err
		}
		amended.LateFeePenaltyType = penaltyType
	}
	if req.LateFeePenaltyValue != nil {
		amended.LateFeePenaltyValue = *req.LateFeePenaltyValue
	}
	if err := amended.LateFeeRule().Validate(); err != nil {
		return domain.FeeStructure{}, err
	}
	return amended, nil
}

// parseEffectiveFrom turns an optional "YYYY-MM" into a period ordinal; empty
// means the structure applies from the start of its academic year.
func parseEffectiveFrom(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	p, err := period.Parse(raw)
	if err != nil {
		var fe *feeerr.Error
		if errors.As(err, &fe) {
			return 0, feeerr.Validation(fe.Code, "effective_from", fe.Message)
		}
		return 0, err
	}
	return p.Ordinal(), nil
}
