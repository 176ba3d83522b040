package analysis

const systemPrompt = "You are a call analytics expert working for a company's support operations team. " +
	"Your job is to understand customer calls end-to-end and provide structured insights " +
	"to improve customer experience and agent effectiveness."

const analysisPromptTemplate = `Analyze this call transcription thoroughly from start to finish.

TRANSCRIPTION:
%s

Please answer the following:

1. Identify which speaker is the **customer** and which one is the **agent**.
2. Determine if the customer is a **new/potential customer** or an **existing customer**.
3. What **problem, query, or doubt** did the customer raise at the beginning?
4. What **services/products** was the customer inquiring about or facing issues with?
5. How did the agent respond to and resolve the issue throughout the call?
6. Was the **customer satisfied** at the end of the call?
7. Did the customer express any **emotions or sentiments** (positive, negative, or neutral)?
8. Were there any mentions of **competitors**, or any opportunities for **upselling or cross-selling**?
9. Summarize the **resolution** and whether it was successful.

Provide your answer in a clear, structured format with section headings and bullet points.
`

// SummaryTitles are the nine analysis points, in prompt order.
var SummaryTitles = []string{
	"Customer & Agent",
	"Customer Type",
	"Main Issue",
	"Service Discussed",
	"Agent's Response",
	"Customer Satisfaction",
	"Sentiment",
	"Competitor or Upsell",
	"Resolution",
}

const summaryPromptTemplate = `Based on this call analysis, summarize each of the following in 2-3 words:

%s

%s
Answer with exactly one line per item in the form "<number>. <title>: <2-3 words>".
`

const questionPromptTemplate = `Based on this call transcription, answer the question below:

TRANSCRIPTION:
%s

QUESTION: %s`
