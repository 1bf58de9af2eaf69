package miso

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/stretchr/testify/require"
)

func benchmarkAdd(factor int, b *testing.B) {
	ds, err := New(Data{Columns: []ColumnSpec{{Name: "n", Type: Number}}})
	require.NoError(b, err)
	b.ResetTimer()
	for n := 0; n < factor*b.N; n++ {
		if _, err := ds.Add(Row{"n": float64(n)}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkAdd1(b *testing.B)   { benchmarkAdd(1, b) }
func BenchmarkAdd10(b *testing.B)  { benchmarkAdd(10, b) }
func BenchmarkAdd100(b *testing.B) { benchmarkAdd(100, b) }
func BenchmarkAdd1k(b *testing.B)  { benchmarkAdd(1_000, b) }

func benchmarkDataset(rows int, b *testing.B, options ...Option) *Dataset {
	data := make([]interface{}, rows)
	for i := range data {
		data[i] = float64(i % 1000)
	}
	ds, err := New(Data{Columns: []ColumnSpec{{Name: "n", Type: Number, Data: data}}}, options...)
	require.NoError(b, err)
	return ds
}

func benchmarkUpdateFunc(rows int, b *testing.B, options ...Option) {
	ds := benchmarkDataset(rows, b, options...)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		touched := n
		if _, err := ds.UpdateFunc(func(r Row) (Row, bool) {
			id, _ := r.ID()
			if int(id) == touched%rows+1 {
				return Row{"n": -r["n"].(float64) - 1}, true
			}
			return r, true
		}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkUpdateFunc1k(b *testing.B)  { benchmarkUpdateFunc(1_000, b) }
func BenchmarkUpdateFunc10k(b *testing.B) { benchmarkUpdateFunc(10_000, b) }
func BenchmarkUpdateFuncCached1k(b *testing.B) {
	benchmarkUpdateFunc(1_000, b, WithRowCache(NewRowCache(2_000)))
}
func BenchmarkUpdateFuncCached10k(b *testing.B) {
	benchmarkUpdateFunc(10_000, b, WithRowCache(NewRowCache(20_000)))
}

func benchmarkDiff(rows int, b *testing.B) {
	ds := benchmarkDataset(rows, b)
	old := ds.Snapshot()
	if _, err := ds.Update(Row{IDColumn: RowID(rows / 2), "n": -1}); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if len(ds.Snapshot().Diff(old)) != 1 {
			b.Fatal("expected one delta")
		}
	}
}

func BenchmarkDiff1k(b *testing.B)   { benchmarkDiff(1_000, b) }
func BenchmarkDiff100k(b *testing.B) { benchmarkDiff(100_000, b) }

func benchmarkProduct(rows int, b *testing.B) {
	ds := benchmarkDataset(rows, b)
	v, err := ds.Rows(Gt("n", 500.0))
	require.NoError(b, err)
	p, err := v.Sum("n")
	require.NoError(b, err)
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		if _, err := ds.Update(Row{IDColumn: RowID(n%rows + 1), "n": float64(n % 1000)}); err != nil {
			b.Fatal(err)
		}
	}
	_ = p.Val()
}

func BenchmarkProduct1k(b *testing.B)  { benchmarkProduct(1_000, b) }
func BenchmarkProduct10k(b *testing.B) { benchmarkProduct(10_000, b) }

func BenchmarkExerciser(b *testing.B) {
	parameters := gopter.DefaultTestParametersWithSeed(1593228262585360000)
	parameters.MaxSize = 512
	parameters.MinSuccessfulTests = b.N
	properties := gopter.NewProperties(parameters)
	properties.Property("dataset exerciser", commands.Prop(datasetCommands))
	out := bytes.NewBuffer(nil)
	reporter := gopter.NewFormatedReporter(false, 98, out)
	require.True(b, properties.Run(reporter))
}
