package parammap

import "testing"

func TestMapperResolvesByExactName(t *testing.T) {
	m := NewMapper()
	result := m.Map([]FuncParam{{Name: "location"}}, map[string]interface{}{"location": "Paris"})
	if result["location"] != "Paris" {
		t.Fatalf("expected exact-name match, got %v", result)
	}
}

func TestMapperResolvesSearchAlias(t *testing.T) {
	m := NewMapper()
	result := m.Map([]FuncParam{{Name: "search_query"}}, map[string]interface{}{"query": "golang release notes"})
	if result["search_query"] != "golang release notes" {
		t.Fatalf("expected search_query to resolve via the query alias, got %v", result)
	}
}

func TestMapperResolvesFileAlias(t *testing.T) {
	m := NewMapper()
	result := m.Map([]FuncParam{{Name: "file_path"}}, map[string]interface{}{"path": "/tmp/report.csv"})
	if result["file_path"] != "/tmp/report.csv" {
		t.Fatalf("expected file_path to resolve via the path alias, got %v", result)
	}
}

func TestMapperFallsBackToSimilarity(t *testing.T) {
	m := NewMapper()
	result := m.Map([]FuncParam{{Name: "destination"}}, map[string]interface{}{"destinatoin": "Berlin"})
	if result["destination"] != "Berlin" {
		t.Fatalf("expected a near-miss spelling to resolve via similarity, got %v", result)
	}
}

func TestMapperUsesDefaultWhenUnresolved(t *testing.T) {
	m := NewMapper()
	result := m.Map([]FuncParam{{Name: "max_results"}}, map[string]interface{}{})
	if result["max_results"] != 10 {
		t.Fatalf("expected system default 10 for max_results, got %v", result)
	}
}

func TestMapperUsesFuncParamDefaultOverSystemDefault(t *testing.T) {
	m := NewMapper()
	result := m.Map([]FuncParam{{Name: "max_results", Default: 25, HasDefault: true}}, map[string]interface{}{})
	if result["max_results"] != 25 {
		t.Fatalf("expected the function's own default to win, got %v", result)
	}
}

func TestResolveCallStrategy(t *testing.T) {
	cases := []struct {
		name     string
		params   []FuncParam
		resolved map[string]interface{}
		want     CallStrategy
	}{
		{"no params", nil, nil, CallNoArg},
		{"all resolved", []FuncParam{{Name: "a"}, {Name: "b"}}, map[string]interface{}{"a": 1, "b": 2}, CallKeywordAll},
		{"required subset resolved", []FuncParam{{Name: "a"}, {Name: "b", HasDefault: true}}, map[string]interface{}{"a": 1}, CallKeywordSubset},
		{"partial, required missing", []FuncParam{{Name: "a"}, {Name: "b"}}, map[string]interface{}{"a": 1}, CallPositional},
		{"nothing resolved", []FuncParam{{Name: "a"}}, map[string]interface{}{}, CallNoArg},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveCallStrategy(tc.params, tc.resolved); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
