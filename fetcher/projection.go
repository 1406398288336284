package fetcher

// Projection is the set of per-hit fields requested from the engine
type Projection struct {
	Source         []string
	DocValueFields []string
	ScriptFields   map[string]Script
}

// WholeDocument reports whether the projection fetches entire documents
func (p Projection) WholeDocument() bool {
	return p.Source == nil
}

// BuildProjection derives the engine projection from a column list.
// A column bound to _source disables source filtering altogether.
func BuildProjection(columns []FieldColumn) Projection {
	var p Projection
	if len(columns) == 0 {
		return p
	}

	wholeDocument := false
	for _, column := range columns {
		if column.Field.Name == SourceField {
			wholeDocument = true
			break
		}
	}

	if !wholeDocument {
		p.Source = make([]string, 0, len(columns))
	}
	for _, column := range columns {
		field := column.Field
		if field.ReadFromDocValues {
			p.DocValueFields = append(p.DocValueFields, field.Name)
		}
		if field.Scripted {
			if p.ScriptFields == nil {
				p.ScriptFields = make(map[string]Script)
			}
			p.ScriptFields[field.Name] = Script{Source: field.Script}
			continue
		}
		if !wholeDocument {
			p.Source = append(p.Source, field.Name)
		}
	}

	return p
}
