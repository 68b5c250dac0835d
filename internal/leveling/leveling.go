// Package leveling holds the XP curve: each level costs twice the previous one.
package leveling

// BaseXP is the XP needed to leave level 1.
const BaseXP = 500

// XPThreshold returns the XP needed to advance from level to level+1.
// Levels below 1 are treated as 1.
func XPThreshold(level int) int {
	if level < 1 {
		level = 1
	}
	return BaseXP << (level - 1)
}

// Apply adds amount XP to a player at (level, xp) and carries the remainder
// across every threshold the award crosses. xp is current-level XP, not
// cumulative. It returns the new position and whether at least one level was
// gained.
func Apply(level, xp, amount int) (newLevel, newXP, xpToNext int, leveledUp bool) {
	if level < 1 {
		level = 1
	}
	xp += amount
	if xp < 0 {
		xp = 0
	}
	xpToNext = XPThreshold(level)
	for xp >= xpToNext {
		xp -= xpToNext
		level++
		xpToNext = XPThreshold(level)
		leveledUp = true
	}
	return level, xp, xpToNext, leveledUp
}
