// Package reconciler merges extracted training matrices into the ledger.
//
// An import run takes one snapshot of the course catalog and staff directory,
// resolves every source record to a staff member, a course and the locations
// it applies to, diffs the parsed cell against the stored ledger entry and
// hands the resulting creates and updates to the batch writer. Records that
// cannot be resolved are reported and skipped; they never stop the run.
package reconciler

import (
	"context"
	goerrors "errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"training-reconciliation-service/internal/matcher"
	"training-reconciliation-service/internal/models"
	"training-reconciliation-service/internal/parsers"
	"training-reconciliation-service/internal/store"
	"training-reconciliation-service/internal/writer"
	"training-reconciliation-service/pkg/errors"
	"training-reconciliation-service/pkg/logger"
)

// Source is one raw table and the location its rows belong to. An empty
// Location writes each record to every location of the staff member.
type Source struct {
	Name     string
	Location string
	Rows     [][]string
}

// Stores are the persistence handles a run reads and writes
type Stores struct {
	Ledger    store.LedgerStore
	Catalog   store.CatalogStore
	Directory store.StaffDirectory
}

// Service runs imports against injected stores
type Service struct {
	stores    Stores
	config    *Config
	extractor *parsers.Extractor
	differ    *Differ
	writer    *writer.BatchWriter
	logger    logger.Logger
}

// NewService creates an import service. A nil config uses DefaultConfig.
func NewService(stores Stores, config *Config, log logger.Logger) (*Service, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config, err)
	}
	if stores.Ledger == nil || stores.Catalog == nil || stores.Directory == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "stores", nil, nil).
			WithSuggestion("provide ledger, catalog and staff directory stores")
	}

	log = logger.OrGlobal(log, "reconciler")

	extractor, err := parsers.NewExtractor(config.Extractor, log)
	if err != nil {
		return nil, err
	}
	w, err := writer.NewBatchWriter(stores.Ledger, config.Writer, log)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "writer", config.Writer, err)
	}

	return &Service{
		stores:    stores,
		config:    config,
		extractor: extractor,
		differ:    NewDiffer(config.Calculator),
		writer:    w,
		logger:    log,
	}, nil
}

// ImportSources extracts every source and imports the tables that could be
// read. A table that cannot be extracted is reported and skipped; when none
// can, the run fails with an input_unreadable error.
func (s *Service) ImportSources(ctx context.Context, sources []Source) (*ImportResult, error) {
	result := newImportResult(s.config.DryRun, s.config.MaxDisplayErrors)

	tables := make([]*parsers.Table, 0, len(sources))
	for _, src := range sources {
		table, err := s.extractor.Extract(src.Name, src.Rows)
		if err != nil {
			rerr := errors.WrapIfNeeded(err, errors.CategoryParse, errors.CodeNoHeaderRow, "table could not be parsed")
			s.logger.WithError(err).WithField("table", src.Name).Warn("Skipping unreadable table")
			result.addError(src.Name, 0, src.Name, rerr)
			continue
		}
		table.Location = src.Location
		tables = append(tables, table)
	}

	if len(sources) > 0 && len(tables) == 0 {
		result.Duration = time.Since(result.StartedAt)
		return result, errors.New(errors.CategoryFile, errors.CodeInputUnreadable, "no source table could be read").
			WithSuggestion("check that the exports contain a 'Staff Name' header row").
			WithContext("tables", len(sources))
	}

	return s.run(ctx, tables, result)
}

// ImportTables imports tables that were already extracted
func (s *Service) ImportTables(ctx context.Context, tables []*parsers.Table) (*ImportResult, error) {
	return s.run(ctx, tables, newImportResult(s.config.DryRun, s.config.MaxDisplayErrors))
}

// resolvedRecord is a source record with its identities resolved
type resolvedRecord struct {
	table     *parsers.Table
	record    models.SourceRecord
	staff     *models.StaffDirectoryEntry
	course    *models.CourseCatalogEntry
	cell      parsers.CellValue
	locations []string
}

func (s *Service) run(ctx context.Context, tables []*parsers.Table, result *ImportResult) (*ImportResult, error) {
	opLog := logger.NewOperationLogger("import", s.logger).WithFields(logger.Fields{
		"run_id":  result.RunID.String(),
		"tables":  len(tables),
		"dry_run": s.config.DryRun,
	})
	defer func() { result.Duration = time.Since(result.StartedAt) }()

	opLog.Step("Loading catalog and staff directory")
	courses, staffResolver, err := s.snapshot(ctx)
	if err != nil {
		opLog.Error(err, "Snapshot failed")
		return result, err
	}

	var total int64
	for _, t := range tables {
		total += int64(len(t.Records))
		result.Tables = append(result.Tables, TableSummary{
			Name:      t.Name,
			Location:  t.Location,
			Columns:   len(t.Columns),
			StaffRows: t.StaffRows,
			Records:   len(t.Records),
		})
	}

	opLog.Step("Resolving records")
	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Stage:       "reconcile",
		Total:       total,
		LogInterval: s.config.ProgressInterval,
		Logger:      s.logger,
	})
	resolved, err := s.resolve(ctx, tables, courses, staffResolver, result, progress)
	if err != nil {
		progress.CompleteWithError(err)
		return result, err
	}

	opLog.Step("Reading ledger")
	existing, err := s.readLedger(ctx, resolved)
	if err != nil {
		progress.CompleteWithError(err)
		opLog.Error(err, "Ledger read failed")
		return result, err
	}

	p := newPlanner(existing)
	for _, rec := range resolved {
		s.plan(p, rec, result)
		progress.Increment()
	}
	progress.Complete()

	result.ConflictKey = s.writer.ConflictKey().String()
	if s.config.DryRun {
		created, updated, merged := writer.CountRows(p.ops, s.writer.ConflictKey())
		result.Summary.Created = created
		result.Summary.Updated = updated
		opLog.WithFields(logger.Fields{"planned": len(p.ops), "merged": merged}).Success("Dry run planned")
		return result, nil
	}

	opLog.Step("Writing ledger")
	written := s.writer.Apply(ctx, p.ops)
	result.Summary.Created = written.Created
	result.Summary.Updated = written.Updated
	result.LegacyFallback = written.LegacyFallback
	result.ConflictKey = s.writer.ConflictKey().String()
	if written.Merged > 0 {
		s.logger.WithField("merged", written.Merged).Warn("Creates for several locations shared one legacy ledger row")
	}

	for i, res := range written.Results {
		if res.Err == nil {
			continue
		}
		origin := p.originOf(res.Operation.Entry.ID, i)
		code := errors.CodePersistenceFailed
		if goerrors.Is(res.Err, store.ErrConflictKeyUnsupported) {
			code = errors.CodeConflictKeyUnsupported
		}
		result.addError(origin.table, origin.row, origin.name, errors.PersistenceError(code, string(res.Operation.Kind), res.Err))
	}

	opLog.WithFields(logger.Fields{
		"processed": result.Summary.Processed,
		"created":   result.Summary.Created,
		"updated":   result.Summary.Updated,
		"unchanged": result.Summary.Unchanged,
		"ignored":   result.Summary.Ignored,
		"errors":    result.Summary.Errors,
	}).Success("Import finished")

	if err := ctx.Err(); err != nil {
		return result, errors.InternalError(errors.CodeCancelled, "import", err)
	}
	return result, nil
}

// snapshot reads the catalog and directory once for the whole run
func (s *Service) snapshot(ctx context.Context) (*matcher.CourseResolver, *matcher.StaffResolver, error) {
	courses, err := s.stores.Catalog.ListCourses(ctx)
	if err != nil {
		return nil, nil, errors.PersistenceError(errors.CodePersistenceFailed, "list courses", err)
	}
	staff, err := s.stores.Directory.ListStaff(ctx)
	if err != nil {
		return nil, nil, errors.PersistenceError(errors.CodePersistenceFailed, "list staff", err)
	}
	assignments, err := s.stores.Directory.ListAssignments(ctx)
	if err != nil {
		return nil, nil, errors.PersistenceError(errors.CodePersistenceFailed, "list staff locations", err)
	}

	courseResolver, err := matcher.NewCourseResolver(courses, s.config.Resolver, s.logger)
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "course catalog", len(courses), err)
	}
	return courseResolver, matcher.NewStaffResolver(staff, assignments, s.logger), nil
}

func (s *Service) resolve(
	ctx context.Context,
	tables []*parsers.Table,
	courses *matcher.CourseResolver,
	staff *matcher.StaffResolver,
	result *ImportResult,
	progress *logger.ProgressTracker,
) ([]resolvedRecord, error) {
	var out []resolvedRecord

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return nil, errors.InternalError(errors.CodeCancelled, "import", err)
		}

		for _, rec := range table.Records {
			result.Summary.Processed++

			course, ok := courses.Resolve(rec.CourseNameRaw)
			if !ok {
				result.addError(table.Name, rec.Row, rec.CourseNameRaw,
					errors.ResolutionError(errors.CodeUnresolvedCourse, rec.CourseNameRaw, rec.Row))
				progress.Increment()
				continue
			}

			match, err := staff.Resolve(rec.StaffNameRaw)
			if err != nil {
				rerr := errors.ResolutionError(errors.CodeUnresolvedStaff, rec.StaffNameRaw, rec.Row)
				if err == matcher.ErrStaffAmbiguous {
					rerr = rerr.WithContext("reason", "ambiguous")
				}
				result.addError(table.Name, rec.Row, rec.StaffNameRaw, rerr)
				progress.Increment()
				continue
			}

			cell := parsers.ParseCell(rec.CellValueRaw)
			if cell.Kind == parsers.CellEmpty {
				s.logger.WithFields(logger.Fields{
					"table": table.Name,
					"row":   rec.Row,
					"value": rec.CellValueRaw,
				}).Debug("Ignoring unrecognised cell")
				result.Summary.Ignored++
				progress.Increment()
				continue
			}

			if len(match.Locations) == 0 {
				result.addError(table.Name, rec.Row, rec.StaffNameRaw,
					errors.ResolutionError(errors.CodeNoLocationAssigned, rec.StaffNameRaw, rec.Row))
				progress.Increment()
				continue
			}

			locations := []string{table.Location}
			switch {
			case table.Location == "":
				locations = match.Locations
			case !match.HasLocation(table.Location):
				// the export is authoritative for its own location
				s.logger.WithFields(logger.Fields{
					"table":    table.Name,
					"staff":    match.Staff.FullName,
					"location": table.Location,
				}).Warn("Staff member is not assigned to the table location")
			}

			out = append(out, resolvedRecord{
				table:     table,
				record:    rec,
				staff:     match.Staff,
				course:    course.Course,
				cell:      cell,
				locations: locations,
			})
		}
	}
	return out, nil
}

// readLedger loads the stored entries of every resolved staff member and course
func (s *Service) readLedger(ctx context.Context, records []resolvedRecord) ([]models.LedgerEntry, error) {
	if len(records) == 0 {
		return nil, nil
	}

	staffIDs := make(map[string]bool)
	courseIDs := make(map[string]bool)
	for _, r := range records {
		staffIDs[r.staff.ID] = true
		courseIDs[r.course.ID] = true
	}
	filter := store.LedgerFilter{StaffIDs: sortedKeys(staffIDs), CourseIDs: sortedKeys(courseIDs)}

	entries, err := store.QueryAll(ctx, s.stores.Ledger, filter, s.config.PageSize)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodePersistenceFailed, "query ledger", err)
	}
	s.logger.WithField("entries", len(entries)).Debug("Ledger snapshot read")
	return entries, nil
}

// plan diffs one record against every location it applies to
func (s *Service) plan(p *planner, rec resolvedRecord, result *ImportResult) {
	origin := opOrigin{table: rec.table.Name, row: rec.record.Row, name: rec.staff.FullName}
	changes := make(map[Action]*ChangeEntry)
	unchanged := true

	for _, location := range rec.locations {
		key := models.LedgerKey{StaffID: rec.staff.ID, CourseID: rec.course.ID, LocationID: location}
		current := p.lookup(key)

		var before models.LedgerFields
		if current != nil {
			before = current.Fields()
			before.CompletionDate = models.CopyDate(before.CompletionDate)
		}

		decision := s.differ.Diff(current, rec.cell, rec.course)
		if decision.Action != ActionCreate && decision.Action != ActionUpdate {
			continue
		}
		unchanged = false
		p.apply(key, current, decision, origin)

		change, ok := changes[decision.Action]
		if !ok {
			change = &ChangeEntry{
				Table:     rec.table.Name,
				Row:       rec.record.Row,
				Staff:     rec.staff.FullName,
				Course:    rec.course.CanonicalName,
				OldDate:   before.CompletionDate,
				NewDate:   models.CopyDate(decision.Fields.CompletionDate),
				OldStatus: before.Status,
				NewStatus: decision.Fields.Status,
				Action:    decision.Action,
			}
			changes[decision.Action] = change
		}
		change.Locations = append(change.Locations, location)
	}

	if unchanged {
		result.Summary.Unchanged++
		return
	}
	for _, action := range []Action{ActionCreate, ActionUpdate} {
		if change, ok := changes[action]; ok {
			result.addChange(*change)
		}
	}
}

// opOrigin is the source record an operation was last planned from
type opOrigin struct {
	table string
	row   int
	name  string
}

// planner holds the ledger state as the run will leave it. Later records for
// a key diff against the pending state and fold into the same operation.
type planner struct {
	state   map[models.LedgerKey]*models.LedgerEntry
	ops     []writer.Operation
	origins []opOrigin
	byKey   map[models.LedgerKey]int
	byID    map[uuid.UUID]int
}

func newPlanner(existing []models.LedgerEntry) *planner {
	p := &planner{
		state: make(map[models.LedgerKey]*models.LedgerEntry, len(existing)),
		byKey: make(map[models.LedgerKey]int),
		byID:  make(map[uuid.UUID]int),
	}
	for i := range existing {
		e := existing[i].Clone()
		p.state[e.Key()] = e
	}
	return p
}

// lookup returns the entry for key, falling back to the unscoped legacy row
func (p *planner) lookup(key models.LedgerKey) *models.LedgerEntry {
	if e, ok := p.state[key]; ok {
		return e
	}
	if key.LocationID != "" {
		if e, ok := p.state[key.Legacy()]; ok {
			return e
		}
	}
	return nil
}

func (p *planner) apply(key models.LedgerKey, current *models.LedgerEntry, decision Decision, origin opOrigin) {
	if decision.Action == ActionCreate {
		entry := &models.LedgerEntry{
			ID:         uuid.New(),
			StaffID:    key.StaffID,
			CourseID:   key.CourseID,
			LocationID: key.LocationID,
		}
		entry.Apply(decision.Fields)
		p.state[key] = entry
		p.add(entry.Key(), writer.Operation{Kind: writer.OperationCreate, Entry: *entry.Clone()}, origin)
		return
	}

	current.Apply(decision.Fields)
	target := current.Key()
	if i, ok := p.byKey[target]; ok {
		p.ops[i].Entry.Apply(decision.Fields)
		p.origins[i] = origin
		return
	}
	p.add(target, writer.Operation{Kind: writer.OperationUpdate, Entry: *current.Clone()}, origin)
}

func (p *planner) add(key models.LedgerKey, op writer.Operation, origin opOrigin) {
	p.byKey[key] = len(p.ops)
	p.byID[op.Entry.ID] = len(p.ops)
	p.ops = append(p.ops, op)
	p.origins = append(p.origins, origin)
}

// originOf finds the record behind a written operation. The writer reorders
// creates before updates, so results are matched by entry ID.
func (p *planner) originOf(id uuid.UUID, fallback int) opOrigin {
	if i, ok := p.byID[id]; ok {
		return p.origins[i]
	}
	if fallback < len(p.origins) {
		return p.origins[fallback]
	}
	return opOrigin{}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
