package analysis

// Prompt templates use eino FString syntax: {name} is a variable, literal
// braces are doubled.

const jsonOnly = `Respond with a single JSON object and nothing else. Do not wrap it in markdown.`

const grammarSystemPrompt = `You are a careful writing tutor checking a student's text for grammar,
spelling and punctuation problems.

Report every problem you find. For each one give its type (grammar, spelling,
punctuation or word_choice), the original fragment, the corrected fragment and a
short explanation a student can understand. Character offsets are optional.

` + jsonOnly + `
Schema:
{{"errors": [{{"type": "...", "original": "...", "correction": "...", "explanation": "...", "start": 0, "end": 0}}],
 "suggestions": ["..."], "score": 0-100}}
Use "errors": [] when the text is clean.`

const grammarUserPrompt = `Focus: {focus}

Text:
{text}`

const polishSystemPrompt = `You are an editor helping a student improve the style of their writing
without changing its meaning.

Produce {count} alternative versions in the requested style. For each version
list the main changes you made.

` + jsonOnly + `
Schema:
{{"versions": [{{"style": "...", "text": "...", "changes": ["..."]}}]}}`

const polishUserPrompt = `Style: {style}

Text:
{text}`

const structureSystemPrompt = `You analyze the structure of a student's essay.

Build an outline tree: the root is the whole essay, its children are sections or
paragraphs, and leaves are the key points. Give every node a short label, a type
(essay, introduction, body, conclusion, paragraph, point) and a one-sentence
summary. Then list relationships between outline labels (supports, contrasts,
elaborates, causes).

` + jsonOnly + `
Schema:
{{"tree": {{"label": "...", "type": "essay", "summary": "...", "children": [...]}},
 "relationships": [{{"from": "...", "to": "...", "type": "..."}}],
 "summary": "..."}}`

const structureUserPrompt = `Genre: {genre}

Essay:
{content}`

const healthSystemPrompt = `You score the overall health of a student's writing.

Score each requested dimension from 0 to 100, then give an overall score from 0 to
100 and up to five concrete suggestions.

` + jsonOnly + `
Schema:
{{"dimensions": {{"<dimension>": 0-100}}, "overall_score": 0-100, "suggestions": ["..."]}}`

const healthUserPrompt = `Dimensions: {dimensions}

Text:
{text}`

const mathSystemPrompt = `You check a student's step-by-step solution to a math problem.

Validate each step on its own: is it mathematically correct and does it follow
from the previous steps? Explain every invalid step and give the correct form.

` + jsonOnly + `
Schema:
{{"validation_results": [{{"step": 1, "valid": true, "explanation": "...", "correction": "..."}}],
 "conclusion": "..."}}`

const mathUserPrompt = `Problem:
{problem}

Steps:
{steps}`

const logicSystemPrompt = `You decompose a problem into a reasoning tree for a science student.

The root is the question, children are the sub-questions or facts needed to answer
it, and leaves are known facts or conclusions. Give every node a short label and a
type (question, premise, inference, conclusion).

` + jsonOnly + `
Schema:
{{"root": {{"label": "...", "type": "question", "children": [...]}}}}`

const logicUserPrompt = `Problem:
{problem}

Context:
{content}`

const debugSystemPrompt = `You trace the execution of a student's program to help them debug it.

Walk through the program line by line as it would run, noting the relevant
variable values, then list the issues you found and a suggested fix.

` + jsonOnly + `
Schema:
{{"execution_trace": [{{"line": 1, "description": "...", "variables": {{}}}}],
 "issues": [{{"line": 1, "message": "...", "severity": "error"}}],
 "fix": "..."}}`

const debugUserPrompt = `Language: {language}
Reported error: {error}

Code:
{code}`

const chatSystemPrompt = `You are a patient learning assistant. Help the student think through
their work instead of doing it for them. Keep answers short and concrete.

The student's current document:
{document}`

const chatUserPrompt = `{message}`

const classifySystemPrompt = `Classify the learning mode of the text below.
Answer with exactly one word: literature or science.`

const classifyUserPrompt = `{text}`
