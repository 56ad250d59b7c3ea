package generate

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	berrors "git.home.luguber.info/inful/bookbinder/internal/errors"
	"git.home.luguber.info/inful/bookbinder/internal/model"
)

// fakeEngine records calls and produces traceable byte output.
type fakeEngine struct {
	mergedParts [][]byte
	props       map[string]string
	fillErr     error
	mergeErr    error
}

func (f *fakeEngine) Merge(_ context.Context, docs [][]byte) ([]byte, error) {
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	f.mergedParts = docs
	return bytes.Join(docs, []byte("|")), nil
}

func (f *fakeEngine) FillAndLock(_ context.Context, template []byte, fields map[string]string) ([]byte, error) {
	if f.fillErr != nil {
		return nil, f.fillErr
	}
	return fmt.Appendf(nil, "filled(%s,%d)", template, len(fields)), nil
}

func (f *fakeEngine) RenderTextPages(_ context.Context, pages [][]string) ([]byte, error) {
	return fmt.Appendf(nil, "text(%d pages)", len(pages)), nil
}

func (f *fakeEngine) SetProperties(_ context.Context, doc []byte, props map[string]string) ([]byte, error) {
	f.props = props
	return doc, nil
}

func testMeta() DocumentMeta {
	return DocumentMeta{CustomerID: "c1", BookID: "b1", GeneratedAt: time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func TestAssemblePreservesSlotOrder(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAssembler(engine)

	pages := []ResolvedPage{
		{Page: model.Page{ID: "p1"}, Unit: StaticUnit{Data: []byte("first")}},
		{Page: model.Page{ID: "p2"}, Unit: StaticUnit{Data: []byte("second")}},
		{Page: model.Page{ID: "p3"}, Unit: StaticUnit{Data: []byte("third")}},
	}
	out, err := a.Assemble(context.Background(), pages, testMeta())
	require.NoError(t, err)
	assert.Equal(t, "first|second|third", string(out))
	require.Len(t, engine.mergedParts, 3)
}

func TestAssembleSinglePartSkipsMerge(t *testing.T) {
	engine := &fakeEngine{mergeErr: stderrors.New("merge must not be called")}
	a := NewAssembler(engine)

	out, err := a.Assemble(context.Background(),
		[]ResolvedPage{{Page: model.Page{ID: "p1"}, Unit: StaticUnit{Data: []byte("only")}}},
		testMeta())
	require.NoError(t, err)
	assert.Equal(t, "only", string(out))
}

func TestAssembleStampsMetadata(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAssembler(engine)

	_, err := a.Assemble(context.Background(),
		[]ResolvedPage{{Page: model.Page{ID: "p1"}, Unit: StaticUnit{Data: []byte("x")}}},
		testMeta())
	require.NoError(t, err)
	assert.Equal(t, "c1", engine.props["bookbinder.customer"])
	assert.Equal(t, "b1", engine.props["bookbinder.book"])
	assert.Equal(t, "2024-08-01T12:00:00Z", engine.props["bookbinder.generated"])
}

func TestAssembleAllOrNothing(t *testing.T) {
	engine := &fakeEngine{fillErr: stderrors.New("bad form")}
	a := NewAssembler(engine)

	pages := []ResolvedPage{
		{Page: model.Page{ID: "p1"}, Unit: StaticUnit{Data: []byte("ok")}},
		{Page: model.Page{ID: "p2"}, Unit: FormUnit{TemplateRef: "t", Template: []byte("tpl"), Fields: map[string]string{}}},
	}
	out, err := a.Assemble(context.Background(), pages, testMeta())
	require.Error(t, err)
	assert.Nil(t, out, "a failed slot must not yield a partial document")
	assert.Nil(t, engine.mergedParts, "merge never ran")
}

func TestAssembleCanceledContext(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAssembler(engine)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Assemble(ctx,
		[]ResolvedPage{{Page: model.Page{ID: "p1"}, Unit: StaticUnit{Data: []byte("x")}}},
		testMeta())
	require.Error(t, err)
	assert.Equal(t, berrors.KindTimeout, berrors.KindOf(err))
}

func TestAssembleTabularExpandsInPlace(t *testing.T) {
	engine := &fakeEngine{}
	a := NewAssembler(engine)

	rows := make([][]string, 75) // spills onto a second physical page
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("row-%d", i)}
	}
	pages := []ResolvedPage{
		{Page: model.Page{ID: "p1"}, Unit: StaticUnit{Data: []byte("before")}},
		{Page: model.Page{ID: "p2"}, Unit: TabularUnit{Tab: "T", Rows: rows}},
		{Page: model.Page{ID: "p3"}, Unit: StaticUnit{Data: []byte("after")}},
	}
	out, err := a.Assemble(context.Background(), pages, testMeta())
	require.NoError(t, err)
	// The tabular slot stays contiguous between its neighbors.
	assert.Equal(t, "before|text(2 pages)|after", string(out))
}

func TestPaginateRowsChunking(t *testing.T) {
	rows := make([][]string, RowsPerPage*2+1)
	for i := range rows {
		rows[i] = []string{"x"}
	}
	pages := PaginateRows(rows)
	require.Len(t, pages, 3)
	assert.Len(t, pages[0], RowsPerPage)
	assert.Len(t, pages[1], RowsPerPage)
	assert.Len(t, pages[2], 1)
}

func TestPaginateRowsExactPageBoundary(t *testing.T) {
	rows := make([][]string, RowsPerPage)
	for i := range rows {
		rows[i] = []string{"x"}
	}
	pages := PaginateRows(rows)
	require.Len(t, pages, 1)
	assert.Len(t, pages[0], RowsPerPage)
}

func TestPaginateRowsEmptyTab(t *testing.T) {
	pages := PaginateRows(nil)
	require.Len(t, pages, 1, "an empty tab still occupies one page slot")
	assert.Equal(t, []string{""}, pages[0])
}

func TestFormatRowJoinAndTruncate(t *testing.T) {
	assert.Equal(t, "a | b | c", FormatRow([]string{"a", "b", "c"}))

	long := strings.Repeat("z", MaxLineWidth+40)
	got := FormatRow([]string{long})
	assert.Len(t, got, MaxLineWidth)

	// Truncation applies after joining.
	cells := []string{strings.Repeat("a", 60), strings.Repeat("b", 60)}
	joined := FormatRow(cells)
	assert.Len(t, joined, MaxLineWidth)
	assert.True(t, strings.HasPrefix(joined, strings.Repeat("a", 60)+CellDelimiter))
}

func TestFormatRowTruncatesOnRuneBoundary(t *testing.T) {
	// The budget counts characters; multi-byte cell values must never be cut
	// mid-rune.
	long := strings.Repeat("ü", MaxLineWidth+20)
	got := FormatRow([]string{long})
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MaxLineWidth, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("ü", MaxLineWidth), got)

	// A line of exactly the budget in runes passes through even when its
	// byte length exceeds it.
	exact := strings.Repeat("é", MaxLineWidth)
	assert.Equal(t, exact, FormatRow([]string{exact}))
}
