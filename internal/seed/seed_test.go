package seed

import "testing"

func TestDataset(t *testing.T) {
	acts, err := Dataset()
	if err != nil {
		t.Fatalf("Dataset failed: %v", err)
	}
	if len(acts) == 0 {
		t.Fatal("dataset is empty")
	}

	for _, act := range acts {
		if act.Title == "" || act.Category == "" || act.Jurisdiction == "" {
			t.Errorf("act %q has missing fields: %+v", act.Title, act)
		}
		if len(act.Sections) == 0 {
			t.Errorf("act %q has no sections", act.Title)
		}
		for _, section := range act.Sections {
			if section.Number == "" || section.Text == "" || section.Simple == "" {
				t.Errorf("act %q section %q has missing fields", act.Title, section.Number)
			}
		}
	}
}
