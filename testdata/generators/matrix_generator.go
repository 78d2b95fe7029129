package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"training-reconciliation-service/internal/models"
)

// MatrixGenerator writes a course catalog, a staff directory and one
// training matrix per location
type MatrixGenerator struct {
	Staff     int
	Locations []string
	Format    string
	StartDate time.Time
	EndDate   time.Time
	rng       *rand.Rand
}

type course struct {
	ID          string
	Name        string
	Header      string
	Months      int
	Description string
}

var courses = []course{
	{ID: "fire", Name: "Fire Safety", Header: "Fire Safety (Careskills)", Months: 12, Description: "1 year"},
	{ID: "fa", Name: "First Aid", Header: "Emergency First Aid", Months: 36, Description: "3 years"},
	{ID: "mh", Name: "Moving and Handling", Header: "Moving and Handling - Step 2", Months: 12, Description: "Annual"},
	{ID: "ipc", Name: "Infection Prevention and Control", Header: "Infection Prevention and Control", Months: 24, Description: "2 yrs"},
	{ID: "ind", Name: "Induction", Header: "Induction", Description: "One off"},
}

var firstNames = []string{"Jane", "John", "Amy", "Priya", "Tom", "Grace", "Ahmed", "Zoë", "Liam", "Sofia"}
var lastNames = []string{"Doe", "Smith", "Brown", "Patel", "Jones", "O'Neill", "Khan", "Müller", "Walsh", "Garcia"}

var statusCells = []string{"Booked", "Awaiting", "In progress", "N/A", "Not yet due", "Completed"}

type staffMember struct {
	ID        string
	Name      string
	Active    bool
	Locations []string
}

func main() {
	var (
		outputDir = flag.String("output-dir", "generated", "Output directory")
		staff     = flag.Int("staff", 50, "Number of staff members")
		locations = flag.Int("locations", 3, "Number of locations")
		format    = flag.String("format", "csv", "Matrix format: csv or xlsx")
		startDate = flag.String("start-date", "2021-01-01", "Earliest completion date (YYYY-MM-DD)")
		endDate   = flag.String("end-date", "2024-12-31", "Latest completion date (YYYY-MM-DD)")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
	)
	flag.Parse()

	start, err := models.ParseDate(*startDate)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	end, err := models.ParseDate(*endDate)
	if err != nil {
		log.Fatalf("Invalid end date: %v", err)
	}
	if *format != "csv" && *format != "xlsx" {
		log.Fatalf("Invalid format %q: use csv or xlsx", *format)
	}

	generator := &MatrixGenerator{
		Staff:     *staff,
		Format:    *format,
		StartDate: start,
		EndDate:   end,
		rng:       rand.New(rand.NewSource(*seed)),
	}
	for i := 0; i < *locations; i++ {
		generator.Locations = append(generator.Locations, fmt.Sprintf("loc%02d", i+1))
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	members := generator.GenerateStaff()
	if err := generator.WriteCatalog(filepath.Join(*outputDir, "catalog.yaml")); err != nil {
		log.Fatalf("Failed to write catalog: %v", err)
	}
	if err := generator.WriteStaff(filepath.Join(*outputDir, "staff.yaml"), members); err != nil {
		log.Fatalf("Failed to write staff directory: %v", err)
	}

	for _, location := range generator.Locations {
		rows := generator.GenerateMatrix(location, members)
		path := filepath.Join(*outputDir, location+"."+generator.Format)
		if generator.Format == "xlsx" {
			err = generator.WriteToXLSX(path, rows)
		} else {
			err = generator.WriteToCSV(path, rows)
		}
		if err != nil {
			log.Fatalf("Failed to write %s: %v", path, err)
		}
		fmt.Printf("Generated %s (%d rows)\n", path, len(rows))
	}

	fmt.Printf("Staff: %d across %d locations\n", len(members), len(generator.Locations))
	fmt.Printf("Seed used: %d\n", *seed)
}

// GenerateStaff creates the directory. Roughly one in ten staff members is
// inactive and one in five works at two locations.
func (g *MatrixGenerator) GenerateStaff() []staffMember {
	members := make([]staffMember, g.Staff)
	for i := range members {
		name := fmt.Sprintf("%s %s", firstNames[g.rng.Intn(len(firstNames))], lastNames[g.rng.Intn(len(lastNames))])
		if i >= len(firstNames)*len(lastNames)/2 {
			name = fmt.Sprintf("%s %d", name, i)
		}
		m := staffMember{
			ID:     fmt.Sprintf("S%04d", i+1),
			Name:   name,
			Active: g.rng.Float64() >= 0.1,
		}
		home := g.Locations[g.rng.Intn(len(g.Locations))]
		m.Locations = []string{home}
		if len(g.Locations) > 1 && g.rng.Float64() < 0.2 {
			for _, other := range g.Locations {
				if other != home {
					m.Locations = append(m.Locations, other)
					break
				}
			}
		}
		members[i] = m
	}
	return members
}

// GenerateMatrix lays out one location's export: a title row, the header,
// the expiry-policy row, then staff rows under role dividers
func (g *MatrixGenerator) GenerateMatrix(location string, members []staffMember) [][]string {
	header := []string{"Staff Name"}
	policy := []string{"Date valid for"}
	for _, c := range courses {
		header = append(header, c.Header)
		policy = append(policy, c.Description)
	}

	rows := [][]string{
		{fmt.Sprintf("Training Matrix - %s", location)},
		header,
		policy,
		{"Care Staff"},
	}

	for _, m := range members {
		if !worksAt(m, location) {
			continue
		}
		row := []string{m.Name}
		for range courses {
			row = append(row, g.cell())
		}
		rows = append(rows, row)
	}

	rows = append(rows, []string{"Key: blank = not booked"})
	return rows
}

// cell mixes dates in the export formats with status words and blanks
func (g *MatrixGenerator) cell() string {
	switch p := g.rng.Float64(); {
	case p < 0.15:
		return ""
	case p < 0.30:
		return statusCells[g.rng.Intn(len(statusCells))]
	default:
		span := g.EndDate.Sub(g.StartDate)
		d := g.StartDate.Add(time.Duration(g.rng.Int63n(int64(span))))
		if g.rng.Float64() < 0.1 {
			return d.Format(models.DateLayout)
		}
		return d.Format("02/01/2006")
	}
}

// WriteCatalog writes the course catalog fixture
func (g *MatrixGenerator) WriteCatalog(filename string) error {
	catalog := struct {
		Courses []models.CourseCatalogEntry `yaml:"courses"`
	}{}
	for _, c := range courses {
		entry := models.CourseCatalogEntry{ID: c.ID, CanonicalName: c.Name}
		if c.Header != c.Name {
			entry.AliasNames = []string{c.Header}
		}
		if c.Months > 0 {
			months := c.Months
			entry.ExpiryMonths = &months
		} else {
			entry.NeverExpires = true
		}
		catalog.Courses = append(catalog.Courses, entry)
	}
	return writeYAML(filename, catalog)
}

// WriteStaff writes the staff directory fixture
func (g *MatrixGenerator) WriteStaff(filename string, members []staffMember) error {
	directory := struct {
		Staff       []models.StaffDirectoryEntry     `yaml:"staff"`
		Assignments []models.StaffLocationAssignment `yaml:"assignments"`
	}{}
	for _, m := range members {
		directory.Staff = append(directory.Staff, models.StaffDirectoryEntry{ID: m.ID, FullName: m.Name, Active: m.Active})
		for _, location := range m.Locations {
			directory.Assignments = append(directory.Assignments, models.StaffLocationAssignment{StaffID: m.ID, LocationID: location})
		}
	}
	return writeYAML(filename, directory)
}

// WriteToCSV writes matrix rows to a CSV file
func (g *MatrixGenerator) WriteToCSV(filename string, rows [][]string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

// WriteToXLSX writes matrix rows to the first sheet of a workbook
func (g *MatrixGenerator) WriteToXLSX(filename string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(filename)
}

func worksAt(m staffMember, location string) bool {
	for _, l := range m.Locations {
		if l == location {
			return true
		}
	}
	return false
}

func writeYAML(filename string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}
