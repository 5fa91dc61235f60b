package decision

// Human-sounding reasoning strings. Each decision carries one of these so the
// per-account record reads like a person explaining themselves, not like an
// algorithm reporting a threshold breach.

var skipReasons = []string{
	"Setup doesn't look clean enough for me today",
	"Already had my share of trades this week, sitting this one out",
	"Spread looks too wide right now, not worth it",
	"Not comfortable with this pair at the moment",
	"Waiting for a better entry, this one feels rushed",
	"Too much news risk around, staying flat",
	"My last trade on this symbol went badly, skipping",
	"Risk is too high for my account size",
	"Gut feeling says no on this one",
	"Prefer to keep my exposure low for now",
}

var modifyReasons = []string{
	"Taking it but with a tighter stop, market feels jumpy",
	"Good signal, but I want a closer target",
	"Going in smaller than suggested, protecting the account",
	"Like the idea, adjusting the levels to my own plan",
	"Taking a reduced position, already have exposure",
	"Stretching the target a bit, trend looks strong",
	"Entering with my usual size, not the suggested one",
}

var contrarianReasons = []string{
	"Everyone's piling in the same way, I'll fade it",
	"Chart says the opposite to me, going against the signal",
	"This feels like a trap, taking the other side",
}

var takeReasons = []string{
	"Clean setup, taking it as given",
	"Signal matches my own read, in",
	"Good risk-reward, no changes needed",
	"Following the plan on this one",
}
