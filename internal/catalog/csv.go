package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var csvHeader = []string{"id", "lon", "lat", "mag1", "mag2", "magerr1", "magerr2", "efficiency", "source"}

// WriteCSV writes objects with a header row.
func WriteCSV(w io.Writer, objects []Object) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	for _, o := range objects {
		rec := []string{
			strconv.FormatInt(o.ID, 10), f(o.Lon), f(o.Lat),
			f(o.Mag1), f(o.Mag2), f(o.MagErr1), f(o.MagErr2),
			f(o.Efficiency), strconv.Itoa(int(o.Source)),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads objects written by WriteCSV. Columns are matched by header
// name; efficiency and source may be omitted.
func ReadCSV(r io.Reader) ([]Object, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyCatalog
	}
	if err != nil {
		return nil, fmt.Errorf("catalog header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, name := range csvHeader[:7] {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("catalog header: missing column %q", name)
		}
	}

	var objects []Object
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: %w", line, err)
		}
		o, err := parseRecord(rec, col)
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: %w", line, err)
		}
		objects = append(objects, o)
	}
	if len(objects) == 0 {
		return nil, ErrEmptyCatalog
	}
	return objects, nil
}

func parseRecord(rec []string, col map[string]int) (Object, error) {
	var o Object
	var err error
	float := func(name string, dst *float64) {
		i, ok := col[name]
		if err != nil || !ok {
			return
		}
		if *dst, err = strconv.ParseFloat(rec[i], 64); err != nil {
			err = fmt.Errorf("%s: %w", name, err)
		}
	}
	if o.ID, err = strconv.ParseInt(rec[col["id"]], 10, 64); err != nil {
		return o, fmt.Errorf("id: %w", err)
	}
	float("lon", &o.Lon)
	float("lat", &o.Lat)
	float("mag1", &o.Mag1)
	float("mag2", &o.Mag2)
	float("magerr1", &o.MagErr1)
	float("magerr2", &o.MagErr2)
	float("efficiency", &o.Efficiency)
	if err != nil {
		return o, err
	}
	if i, ok := col["source"]; ok {
		src, err := strconv.ParseUint(rec[i], 10, 8)
		if err != nil {
			return o, fmt.Errorf("source: %w", err)
		}
		o.Source = Source(src)
	}
	return o, nil
}
