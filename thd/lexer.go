package thd

type Command rune

const (
	Increment Command = '+'
	Decrement Command = '-'
	Left      Command = '<'
	Right     Command = '>'
	Output    Command = '.'
	Input     Command = ','
	LoopStart Command = '['
	LoopEnd   Command = ']'
	Ignore    Command = ' '
)

// The TripleHorseDeer surface words, one per command. Every word starts
// with a distinct rune, so the scanner commits on the first rune of a
// word and skips the rest of it.
var words = [...]struct {
	word string
	cmd  Command
}{
	{"いぬい", Increment},
	{"とこ", Decrement},
	{"アン", Right},
	{"カト", Left},
	{"さん", LoopStart},
	{"ばか", LoopEnd},
	{"リゼ", Output},
	{"エスタ", Input},
}

func init() {
	// A shared first rune would make the word scan ambiguous
	seen := map[rune]bool{}
	for _, w := range words {
		head := []rune(w.word)[0]
		if seen[head] {
			panic("conflicting surface words")
		}
		seen[head] = true
	}
}

func parse(c rune) Command {
	switch c {
	case '+':
		return Increment
	case '-':
		return Decrement
	case '>':
		return Right
	case '<':
		return Left
	case '.':
		return Output
	case ',':
		return Input
	case '[':
		return LoopStart
	case ']':
		return LoopEnd
	default:
		return Ignore
	}
}

func (c Command) String() string {
	switch c {
	case Increment:
		return "+"
	case Decrement:
		return "-"
	case Left:
		return "<"
	case Right:
		return ">"
	case Output:
		return "."
	case Input:
		return ","
	case LoopStart:
		return "["
	case LoopEnd:
		return "]"
	default:
		return " "
	}
}

// Word spells a command as its surface word, or "" for Ignore.
func (c Command) Word() string {
	for _, w := range words {
		if w.cmd == c {
			return w.word
		}
	}
	return ""
}

type Lexer struct {
	chars []rune
}

func NewLexer(input string) *Lexer {
	return &Lexer{
		chars: []rune(input),
	}
}

// Lex scans the source for surface words. Anything between words is
// comment text and is skipped.
func (l *Lexer) Lex() []Command {
	commands := []Command{}
	i := 0
	for i < len(l.chars) {
		matched := false
		for _, w := range words {
			word := []rune(w.word)
			if l.chars[i] == word[0] {
				commands = append(commands, w.cmd)
				i += len(word)
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return commands
}

func Lex(input string) []Command {
	lexer := NewLexer(input)
	return lexer.Lex()
}

// LexSymbols reads classic single-symbol source (+-><[].,) instead of
// surface words.
func LexSymbols(input string) []Command {
	commands := []Command{}
	for _, c := range input {
		cmd := parse(c)
		if cmd != Ignore {
			commands = append(commands, cmd)
		}
	}
	return commands
}

// Encode spells a program back into surface words.
func Encode(program []Command) string {
	var out []rune
	for _, cmd := range program {
		out = append(out, []rune(cmd.Word())...)
	}
	return string(out)
}
