package ivr

// OperationContext tags every outbound media action and is echoed back on
// the corresponding completion event, so the router can tell which logical
// step just finished.
type OperationContext string

const (
	ContextTransferFailed OperationContext = "TransferFailed"
	ContextConnectAgent   OperationContext = "ConnectAgent"
	ContextGoodbye        OperationContext = "Goodbye"
	ContextFreeForm       OperationContext = "GetFreeFormText"
	ContextChatResponse   OperationContext = "ChatResponse"
)

// answerSystemPrompt steers the assistant persona for free-form turns.
const answerSystemPrompt = `You're an AI assistant for an elevator company called Contoso Elevators. Customers will contact you as the first point of contact when having issues with their elevators.
Your priority is to ensure the person contacting you or anyone else in or around the elevator is safe, if not then they should contact their local authorities.
If everyone is safe then ask the user for information about the elevators location, such as city, building and elevator number.
Also get the users name and number so that a technician who goes onsite can contact this person. Confirm with the user all the information
they've shared that it's all correct and then let them know that you've created a ticket and that a technician should be onsite within the next 24 to 48 hours.`

// escalateIntentDescription is what DetectIntent matches caller speech against.
const escalateIntentDescription = "talk to agent"

const (
	helloPrompt               = "Hello, thank you for calling! How can I help you today?"
	timeoutSilencePrompt      = "I'm sorry, I didn't hear anything. If you need assistance please let me know how I can help you."
	goodbyePrompt             = "Thank you for calling! I hope I was able to assist you. Have a great day!"
	connectAgentPrompt        = "I'm sorry, I was not able to assist you with your request. Let me transfer you to an agent who can help you further. Please hold the line and I'll connect you shortly."
	callTransferFailurePrompt = "It looks like I can't connect you to an agent right now, but we will get the next available agent to call you back as soon as possible."
	agentsBusyPrompt          = "I'm sorry, we're currently experiencing high call volumes and all of our agents are currently busy. Our next available agent will call you back as soon as possible."
	connectAgentPhrase        = "Sure, please stay on the line. I'm going to transfer you to an agent."
	apologyPrompt             = "I'm sorry, I'm having trouble with that request right now. Could you tell me again how I can help?"
)
