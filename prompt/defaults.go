package prompt

// Variable names shared by the default templates.
const (
	VarQuestion = "question"
	VarSchema   = "schema"
	VarContext  = "context"
)

// UsefulAnswerMarker opens every answer produced with DefaultAnswer.
const UsefulAnswerMarker = ">Useful answer:"

const queryGenerationText = `Task: Generate a Cypher statement to query a graph database.
Instructions:
    - Use only these Cypher keywords: MATCH, OPTIONAL MATCH, WHERE, RETURN, WITH, COUNT, IN, AS, AND, OR, NOT, STARTS WITH, ENDS WITH, CONTAINS, DISTINCT, ORDER BY, DESC, ASC, LIMIT.
    - Produce a single read-only MATCH statement. Never create, update or delete data.
    - Use only the node labels, relationship types and properties listed in the schema below.
    - Respect relationship directions exactly as the schema lists them.
    - Do not add explanations, apologies, html tags or any text other than the statement.

Pattern reminders:
    - (w:NeoWord)                     // variable w with label NeoWord
    - (:NeoArticle)                   // label only
    - ()                              // any node
    - -[:ARTICLE_IS_USED_IN]->        // outgoing relationship
    - <-[:WORD_IS_USED_IN]-           // incoming relationship
    - MATCH (d:NeoDictionary)<-[:ARTICLE_IS_USED_IN]-(a:NeoArticle) RETURN a LIMIT 10
    - MATCH (r:NeoRadical) WHERE r.value CONTAINS 'mba' RETURN r
    - MATCH (a:NeoArticle) WHERE a.disable_metadata = true RETURN count(a)

Example:
    Schema=
        Node properties are the following:
        NeoVariant {created_at: STRING, disable: BOOLEAN}
        The relationships are the following:
        (:NeoVariant)-[:WORD_IS_USED_IN]->(:NeoWord),(:NeoRadical)-[:RADICAL_IS_FOUND_IN]->(:NeoWord)
    Question= affiche tous les radicaux de la base
    Answer= MATCH (v:NeoVariant)-[:WORD_IS_USED_IN]->(w:NeoWord)<-[:RADICAL_IS_FOUND_IN]-(r:NeoRadical) RETURN r

Schema=
{{.schema}}

Question= {{.question}}

Answer=`

const answerText = `Task: You are the assistant of the NTeALan association.
Instructions:
    - Answer the human's question using the information provided below.
    - You may also answer friendly questions about African linguistics and culture, the NTeALan dictionaries and the NTeALan association (https://ntealan.net).
    - The information provided is authoritative. Never doubt it or correct it with your own knowledge.
    - Keep the answer about the question. Do not mention that you used the information provided.
    - ALWAYS start your answer with "` + UsefulAnswerMarker + `" and ALWAYS answer in FRENCH.
    - If the information provided is empty, say that you do not know the answer.
    - Do not repeat the information block and do not add explanations or apologies.

Example:
    Information: [{"manager": "CTL LLC"}, {"manager": "JANE STREET GROUP LLC"}]
    Question: Quels gestionnaires possèdent des actions Neo4j ?
    Answer: ` + UsefulAnswerMarker + ` CTL LLC et JANE STREET GROUP LLC possèdent des actions Neo4j.

Information:
{{.context}}

Question: {{.question}}

Answer: `

const questionValidationText = `Task: Decide whether the question below can be translated into a valid Cypher query over the dictionary graph.
Instructions:
    - Respond with 'True' or 'False' and nothing else.
    - Never output '</s>' tags.

Samples:
    Question: Tu es un salaud
    Helpful Answer: False
    ---
    Question: Bonjour, comment tu vas ?
    Helpful Answer: False
    ---
    Question: qui est ntealan ?
    Helpful Answer: False
    ---
    Question: How many articles do you have in the database
    Helpful Answer: True
    ---
    Question: liste tous les dictionnaires que tu connais
    Helpful Answer: True

Question: {{.question}}

Answer:`

const safetyText = `Task: You are a safety bot. Decide whether the question below is abusive, hateful or otherwise unsafe under international law.
Instructions:
    - Respond with 'True' when the question is unsafe and 'False' when it is safe. Nothing else.

Samples:
    Question: Tu es un salaud
    Answer: True
    ---
    Question: How many articles do you have in the database
    Answer: False

Question:
{{.question}}

Answer:`

// DefaultQueryGeneration builds the query generation prompt. Inputs:
// schema, question.
func DefaultQueryGeneration() *Template {
	return Must(New("query_generation", queryGenerationText, VarSchema, VarQuestion))
}

// DefaultAnswer builds the answer synthesis prompt. Inputs: context,
// question.
func DefaultAnswer() *Template {
	return Must(New("answer", answerText, VarContext, VarQuestion))
}

// DefaultQuestionValidation builds the translatability check prompt.
// Input: question.
func DefaultQuestionValidation() *Template {
	return Must(New("question_validation", questionValidationText, VarQuestion))
}

// DefaultSafety builds the safety check prompt. Input: question. A True
// verdict means unsafe.
func DefaultSafety() *Template {
	return Must(New("safety", safetyText, VarQuestion))
}
