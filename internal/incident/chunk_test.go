package incident

import (
	"reflect"
	"testing"
)

func TestBuildChunks_PriorityFilter(t *testing.T) {
	t.Parallel()

	doc := Parse("## Timeline\nT\n## Unrelated Note\nU\n## Summary\nS", "a.md")
	chunks := BuildChunks(doc)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %+v", len(chunks), chunks)
	}
	if chunks[0].Metadata.SectionName != "summary" || chunks[0].Text != "S" {
		t.Errorf("chunk[0] = %+v, want summary/S", chunks[0])
	}
	if chunks[1].Metadata.SectionName != "timeline" || chunks[1].Text != "T" {
		t.Errorf("chunk[1] = %+v, want timeline/T", chunks[1])
	}
}

func TestBuildChunks_Metadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want ChunkMetadata
	}{
		{
			name: "full header",
			raw:  "---\nincident_id: INC-1\nseverity: high\nservice: db\ndate: 2024-03-01\n---\n## Summary\nx",
			want: ChunkMetadata{IncidentID: "INC-1", Severity: "high", Service: "db", Date: "2024-03-01", SectionName: "summary", SourceID: "a.md"},
		},
		{
			name: "missing service defaults to unknown",
			raw:  "---\nincident_id: INC-2\nseverity: low\ndate: 2024-03-02\n---\n## Summary\nx",
			want: ChunkMetadata{IncidentID: "INC-2", Severity: "low", Service: Unknown, Date: "2024-03-02", SectionName: "summary", SourceID: "a.md"},
		},
		{
			name: "no header",
			raw:  "## Summary\nx",
			want: ChunkMetadata{IncidentID: Unknown, Severity: Unknown, Service: Unknown, Date: Unknown, SectionName: "summary", SourceID: "a.md"},
		},
		{
			name: "empty value is kept",
			raw:  "---\nservice:\n---\n## Summary\nx",
			want: ChunkMetadata{IncidentID: Unknown, Severity: Unknown, Service: "", Date: Unknown, SectionName: "summary", SourceID: "a.md"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunks := BuildChunks(Parse(tt.raw, "a.md"))
			if len(chunks) != 1 {
				t.Fatalf("got %d chunks, want 1", len(chunks))
			}
			if chunks[0].Metadata != tt.want {
				t.Errorf("metadata: got %+v, want %+v", chunks[0].Metadata, tt.want)
			}
		})
	}
}

func TestBuildChunks_SkipsBlankSections(t *testing.T) {
	t.Parallel()

	doc := Parse("## Summary\n\n   \n## Impact\nreal", "a.md")
	chunks := BuildChunks(doc)
	if len(chunks) != 1 || chunks[0].Metadata.SectionName != "impact" {
		t.Fatalf("got %+v, want only impact", chunks)
	}
}

func TestBuildChunks_NoPrioritySections(t *testing.T) {
	t.Parallel()

	if got := BuildChunks(Parse("# Just a title\nbody", "a.md")); len(got) != 0 {
		t.Errorf("got %d chunks, want 0", len(got))
	}
}

func TestBuildChunks_Idempotent(t *testing.T) {
	t.Parallel()

	raw := "---\nincident_id: INC-9\n---\n## Resolution\nR\n## Root Cause\nRC\n## Prevention\nP"
	first := BuildChunks(Parse(raw, "x.md"))
	second := BuildChunks(Parse(raw, "x.md"))
	if !reflect.DeepEqual(first, second) {
		t.Errorf("chunks differ between runs:\n%+v\n%+v", first, second)
	}
}

func TestFlatten_AssignsDenseIDs(t *testing.T) {
	t.Parallel()

	a := BuildChunks(Parse("## Summary\na1\n## Impact\na2", "a.md"))
	b := BuildChunks(Parse("## Summary\nb1\n## Root Cause\nb2\n## Timeline\nb3", "b.md"))

	flat := Flatten([][]Chunk{a, nil, b})
	if len(flat) != 5 {
		t.Fatalf("got %d chunks, want 5", len(flat))
	}

	wantText := []string{"a1", "a2", "b1", "b2", "b3"}
	for i, c := range flat {
		if c.ID != uint64(i) {
			t.Errorf("flat[%d].ID = %d, want %d", i, c.ID, i)
		}
		if c.Text != wantText[i] {
			t.Errorf("flat[%d].Text = %q, want %q", i, c.Text, wantText[i])
		}
	}

	// Inputs are not mutated.
	if a[1].ID != 0 {
		t.Errorf("input chunk mutated: ID = %d", a[1].ID)
	}
}

func TestFlatten_Empty(t *testing.T) {
	t.Parallel()

	if got := Flatten(nil); len(got) != 0 {
		t.Errorf("got %d chunks, want 0", len(got))
	}
}
