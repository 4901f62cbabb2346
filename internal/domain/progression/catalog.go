package progression

import "sort"

// Reward describes how many points an activity is worth.
type Reward struct {
	Key         string `json:"key"`
	Source      string `json:"source"`
	Amount      int    `json:"amount"`
	PerLevel    int    `json:"per_level,omitempty"`
	Description string `json:"description"`
}

// MaxRewardLevel bounds the game level a client may claim a reward for.
const MaxRewardLevel = 1000

// AmountFor returns the reward for the given game level. Rewards without a
// per-level bonus ignore the level.
func (r Reward) AmountFor(level int) int {
	if level < 1 {
		level = 1
	}
	return r.Amount + r.PerLevel*level
}

var catalog = map[string]Reward{
	"focus_session": {Key: "focus_session", Source: SourceFocusSession, Amount: 50, Description: "Completed focus session"},
	"task":          {Key: "task", Source: SourceTask, Amount: 25, Description: "Completed task"},
	"habit":         {Key: "habit", Source: SourceHabit, Amount: 10, Description: "Logged wellness habit"},
	"game_memory":   {Key: "game_memory", Source: SourceGame, Amount: 30, Description: "Memory game"},
	"game_reaction": {Key: "game_reaction", Source: SourceGame, Amount: 25, Description: "Reaction game"},
	"game_sequence": {Key: "game_sequence", Source: SourceGame, Amount: 20, PerLevel: 5, Description: "Sequence game"},
}

// Catalog returns all known rewards ordered by key.
func Catalog() []Reward {
	out := make([]Reward, 0, len(catalog))
	for _, r := range catalog {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// LookupReward finds a reward by key.
func LookupReward(key string) (Reward, bool) {
	r, ok := catalog[key]
	return r, ok
}
