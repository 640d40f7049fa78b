package llm

import "fmt"

const chatSystemInstruction = `You are Khatiebi, the AI intake counsel of the IP division of Khalwale & Co Advocates.
Be professional, concise (at most 200 words) and protective of the client's rights.
Explain risks, but leave drafting and negotiation advice to the firm's advocates.
When the user wants a contract reviewed, call offerContractUpload.
When the user asks for a written summary to be emailed, call sendLegalBrief.`

func analysisPrompt(clientName string) string {
	return fmt.Sprintf(`You are a senior IP consultant at Khalwale & Co Advocates reviewing an entertainment contract (music or film) for %s.
Identify the main risks, in particular work-for-hire clauses, recoupment terms and territory overreach.
Explain each problem clearly and recommend a strategic consultation with an advocate to draft protective counter-language.
Use bold headers.`, clientName)
}

func briefPrompt(clientName, concerns, auditSummary string) string {
	return fmt.Sprintf(`Summarise this case for an advocate's video consultation.

CLIENT: %s
CONCERNS: %s
AI AUDIT DATA: %s...

Produce a "Counsel's Strategic Briefing" covering the client's primary objectives,
the three strongest negotiation leverage points, and a recommended fee structure.`, clientName, concerns, auditSummary)
}

func quizPrompt(category string, n int) string {
	return fmt.Sprintf(`Generate EXACTLY %d multiple-choice questions for a legal professional quiz on "%s".
Each question has exactly 4 options. Return ONLY the raw JSON array.`, n, category)
}
