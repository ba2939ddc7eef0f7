package archive

import (
	"iter"

	"github.com/sunr3d/site-mover/models"
)

// TablesOf adapts in-memory dumps to the lazy table sequence taken by
// Writer.WriteDatabaseExport.
func TablesOf(dumps ...models.TableDump) iter.Seq2[models.TableStream, error] {
	return func(yield func(models.TableStream, error) bool) {
		for _, d := range dumps {
			rows := d.Rows
			stream := models.TableStream{
				Name:    d.Name,
				Columns: d.Columns,
				Rows: func(yield func(models.Row, error) bool) {
					for _, row := range rows {
						if !yield(row, nil) {
							return
						}
					}
				},
			}
			if !yield(stream, nil) {
				return
			}
		}
	}
}
