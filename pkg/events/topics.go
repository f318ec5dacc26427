package events

const (
	TopicRewrite = "cmopt122:events:rewrite"
)
