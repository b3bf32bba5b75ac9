package schema

// DescribeRow is one row of DESCRIBE TABLE output in a JSON row format.
type DescribeRow struct {
	Name              string `json:"name"`
	Type              string `json:"type"`
	DefaultType       string `json:"default_type"`
	DefaultExpression string `json:"default_expression"`
}

// FromDescribe builds a resolved table from DESCRIBE TABLE rows.
func FromDescribe(database, name string, rows []DescribeRow) (*Table, error) {
	columns := make([]Column, 0, len(rows))
	for _, row := range rows {
		kind, err := ParseDefaultKind(row.DefaultType)
		if err != nil {
			return nil, err
		}
		columns = append(columns, Column{
			Name:              row.Name,
			Type:              row.Type,
			DefaultKind:       kind,
			DefaultExpression: row.DefaultExpression,
		})
	}

	table := NewTable(database, name, columns...)
	if err := table.Resolve(); err != nil {
		return nil, err
	}
	return table, nil
}
