package instruction

import "aiforge/internal/models"

// pattern is the keyword/action/param template for one built-in task type.
//
// English-only per SPEC_FULL.md: the original analyzer.py ships parallel
// Chinese and English keyword lists; shipping both scripts' lists without a
// tested locale detector risked silent cross-language false matches, so only
// the English tables are carried here and CJK support is left an open
// question (see DetectLocale).
type pattern struct {
	Keywords        []string
	ExcludeKeywords []string
	Actions         []string
	OutputFormats   []string
	CommonParams    []string
}

// patterns mirrors original_source/instruction/analyzer.py's
// standardized_patterns table, English entries only.
var patterns = map[models.TaskType]pattern{
	models.TaskTypeDataFetch: {
		Keywords:      []string{"search", "fetch", "find", "news", "api", "crawl", "information", "lookup", "retrieve"},
		Actions:       []string{"search", "fetch", "get", "crawl"},
		OutputFormats: []string{"json", "list", "dict"},
		CommonParams:  []string{"query", "topic", "time_range", "date"},
	},
	models.TaskTypeDataProcess: {
		Keywords:      []string{"analyze", "process", "calculate", "transform", "summarize data", "compute"},
		Actions:       []string{"analyze", "process", "calculate", "transform"},
		OutputFormats: []string{"json", "table", "report"},
		CommonParams:  []string{"data_source", "method", "format"},
	},
	models.TaskTypeFileOperation: {
		Keywords:      []string{"file", "read", "write", "save", "batch", "export", "import"},
		Actions:       []string{"read", "write", "save", "process"},
		OutputFormats: []string{"file", "json", "text"},
		CommonParams:  []string{"file_path", "format", "encoding"},
	},
	models.TaskTypeAutomation: {
		Keywords:      []string{"automation", "schedule", "monitor", "task", "recurring", "watch"},
		Actions:       []string{"automate", "schedule", "monitor", "execute"},
		OutputFormats: []string{"status", "log", "report"},
		CommonParams:  []string{"interval", "condition", "action"},
	},
	models.TaskTypeContentGeneration: {
		Keywords:      []string{"generate", "create", "write a", "compose", "report", "draft"},
		Actions:       []string{"generate", "create", "write", "compose"},
		OutputFormats: []string{"text", "document", "html"},
		CommonParams:  []string{"template", "content", "style"},
	},
	models.TaskTypeDirectResponse: {
		Keywords: []string{
			"what is", "how", "why", "explain", "describe", "define", "concept",
			"write an essay", "write a poem", "compose a", "draft a",
			"translate", "convert to", "rewrite as",
			"summarize", "interpret", "analyze this text",
			"suggest", "recommend", "opinion", "advice", "what do you think",
		},
		ExcludeKeywords: []string{
			"today", "now", "latest", "current", "real-time", "currently",
			"weather", "stock price", "news", "exchange rate", "price", "status",
		},
		Actions:       []string{"respond", "answer", "create", "translate", "summarize", "suggest"},
		OutputFormats: []string{"text", "markdown"},
		CommonParams:  []string{"content", "style"},
	},
}
