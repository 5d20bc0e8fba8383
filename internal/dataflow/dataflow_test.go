package dataflow

import "testing"

func TestAnalyzeFuncMarksMeaningfulUse(t *testing.T) {
	src := `func Run(location string) (interface{}, error) {
	url := "https://example.com/weather?q=" + location
	return url, nil
}`
	analysis, err := AnalyzeFunc(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !analysis.MeaningfulUses["location"] {
		t.Fatalf("expected location to be marked meaningfully used")
	}
	if analysis.HasConflicts() {
		t.Fatalf("did not expect conflicts")
	}
}

func TestAnalyzeFuncDetectsHardcodedCoordinateConflict(t *testing.T) {
	src := `func Run(location string) (interface{}, error) {
	resp, _ := http.Get(fmt.Sprintf("https://example.com?latitude=37.7&longitude=-122.4"))
	return resp, nil
}`
	analysis, err := AnalyzeFunc(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !analysis.HasConflicts() {
		t.Fatalf("expected a hardcoded coordinate conflict")
	}
}

func TestAnalyzeFuncDetectsAPIKeyConflict(t *testing.T) {
	src := `func Run(params map[string]interface{}) (interface{}, error) {
	resp, _ := http.Get(fmt.Sprintf("https://example.com?api_key=sk_live_abcdef1234567890"))
	return resp, nil
}`
	analysis, err := AnalyzeFunc(src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, c := range analysis.Conflicts {
		if c.Type == "hardcoded_api_key" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a hardcoded_api_key conflict, got %+v", analysis.Conflicts)
	}
}

func TestGateRejectsLowParameterCoverage(t *testing.T) {
	analysis := Analysis{Params: []string{"a"}, MeaningfulUses: map[string]bool{"a": true}}
	ok, reason := analysis.Gate(GateInput{RequiredParameterCount: 5})
	if ok {
		t.Fatalf("expected gate rejection, got pass")
	}
	if reason == "" {
		t.Fatalf("expected a rejection reason")
	}
}

func TestGatePassesWithSufficientCoverageAndUse(t *testing.T) {
	analysis := Analysis{
		Params:         []string{"a", "b"},
		MeaningfulUses: map[string]bool{"a": true},
	}
	ok, _ := analysis.Gate(GateInput{RequiredParameterCount: 2})
	if !ok {
		t.Fatalf("expected gate pass with 50%% meaningful use")
	}
}

func TestAnalyzeFuncTracksMapParamAccess(t *testing.T) {
	src := `func Run(params map[string]interface{}) (interface{}, error) {
	location, _ := params["location"].(string)
	url := fmt.Sprintf("https://api.example.com/weather?location=%s", location)
	resp, _ := http.Get(url)
	return resp, nil
}`
	analysis, err := AnalyzeFunc(src, "location", "units")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !analysis.MeaningfulUses["location"] {
		t.Fatalf("expected location (accessed via params map) to be marked meaningfully used")
	}
	if analysis.MeaningfulUses["units"] {
		t.Fatalf("did not expect units to be marked used, it was never accessed")
	}
	ok, reason := analysis.Gate(GateInput{RequiredParameterCount: 2, Action: "fetch_data", Code: src})
	if !ok {
		t.Fatalf("expected gate pass, got rejection: %s", reason)
	}
}

func TestFunctionalityAlignsForFetchAction(t *testing.T) {
	if !FunctionalityAligns(`resp, _ := http.Get(url)`, "fetch_data") {
		t.Fatalf("expected fetch-class action to align with http.Get body")
	}
	if FunctionalityAligns(`x := 1 + 1`, "fetch_data") {
		t.Fatalf("did not expect a fetch-class action to align with arithmetic-only body")
	}
}
