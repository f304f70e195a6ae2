package images

import "testing"

func TestDeriveStatusPriorityOrder(t *testing.T) {
	georeferenced := Georeference{ID: "geo-1"}
	validated := Georeference{
		ID:          "geo-2",
		Validations: []GeoreferenceValidation{{ID: "val-1", Vote: VoteCorrect}},
	}

	tests := []struct {
		name  string
		image Image
		want  Status
	}{
		{
			name:  "no-submissions",
			image: Image{},
			want:  StatusPending,
		},
		{
			name:  "georeferenced-without-votes",
			image: Image{Georeferences: []Georeference{georeferenced}},
			want:  StatusGeoreferenced,
		},
		{
			name:  "any-validated-submission-wins",
			image: Image{Georeferences: []Georeference{georeferenced, validated}},
			want:  StatusValidated,
		},
		{
			name: "exclusion-flag-beats-everything",
			image: Image{
				WillNotGeoref: true,
				Georeferences: []Georeference{validated},
			},
			want: StatusWillNotGeoref,
		},
		{
			name:  "exclusion-flag-on-pending-image",
			image: Image{WillNotGeoref: true},
			want:  StatusWillNotGeoref,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.image); got != tt.want {
				t.Fatalf("expected status %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDeriveStatusReturnsOneOfFourValues(t *testing.T) {
	known := map[Status]struct{}{
		StatusPending:       {},
		StatusGeoreferenced: {},
		StatusValidated:     {},
		StatusWillNotGeoref: {},
	}

	samples := []Image{
		{},
		{WillNotGeoref: true},
		{Georeferences: []Georeference{{ID: "g"}}},
		{Georeferences: []Georeference{{ID: "g", Validations: []GeoreferenceValidation{{ID: "v"}}}}},
	}
	for _, sample := range samples {
		if _, ok := known[DeriveStatus(sample)]; !ok {
			t.Fatalf("derived status outside the known set: %s", DeriveStatus(sample))
		}
	}
}
