package forums

import "github.com/MikeSquared-Agency/loom/internal/prompts"

const (
	// ContentTypePlaceholder is replaced with a clause sampled for the
	// thread's content type.
	ContentTypePlaceholder = "{{content_type_str}}"

	// ResponseLengthPlaceholder is left in the system prompt for the
	// downstream formatter, which knows the length of the reply being trained.
	ResponseLengthPlaceholder = "{{response_length_str}}"
)

var systemPrompts = prompts.MustExpand(
	"%{Enter|Engage|Enable|Start} %{storywriting|fiction writing|fantasy writing|fantasy|fiction} mode. {{content_type_str}}. {{response_length_str}}.",
	"You are now in %{storywriting|fiction writing|fantasy writing|fantasy|fiction} mode. Drive the story forward in chunks. {{content_type_str}}. {{response_length_str}}.",
	"You are an %{AI|artificial intelligence} trained to perform %{storywriting|fiction writing|fantasy writing|fantasy roleplay|fiction roleplay}. Generate continuations for whatever the user gives. {{content_type_str}}. {{response_length_str}}.",
	"Write the next reply in a fictional %{roleplay|RP} %{chat|conversation}. {{content_type_str}}. {{response_length_str}}.",
)

var contentTypePrompts = map[ContentType][]string{
	ContentSFW: prompts.MustExpand(
		"%{Generations|Your writing|The generated response|Your reply|Generated replies} must %{be safe for work|be SFW|not include any adult themes|be safe for minors|not include 18+ content|not be 18+|not be NSFW}",
	),
	ContentNSFW: prompts.MustExpand(
		"%{Generations|Your writing|The generated response|Your reply|Generated replies} must %{be not safe for work|be NSFW|include adult themes|include erotic themes|include 18+ content}",
	),
	ContentMixed: prompts.MustExpand(
		"%{Generations|Your writing|The generated response|Your reply|Generated replies} %{may or may not include adult themes|may or may not be NSFW|can include adult themes}",
	),
}
