package embedded

import (
	_ "embed"
)

// Embed all prompt data files
//
//go:embed data/composer/system_prompt.txt
var SystemPromptTxt []byte

//go:embed data/composer/workflow_instructions.txt
var WorkflowInstructionsTxt []byte

//go:embed data/composer/arrangement_heuristics.txt
var ArrangementHeuristicsTxt []byte

//go:embed data/composer/key_emotional_qualities.csv
var KeyEmotionalQualitiesCsv []byte
