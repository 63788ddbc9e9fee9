package models

const (
	MetaText    = "text"
	MetaSource  = "source"
	MetaPage    = "page"
	MetaChunkID = "chunk_id"

	GenericQueryError   = "Failed to process query"
	GenericRequestError = "Invalid request"
)

// StuffPromptTemplate places every retrieved chunk into a single prompt.
var (
	StuffPromptTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

{{.context}}

Question: {{.question}}
Helpful Answer:`
)
