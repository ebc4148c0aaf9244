package engine

// SetSize is both the number of cards per kind in the deck and the count at
// which a kind becomes locked.
const SetSize = 4

const (
	MinPlayers = 2
	MaxPlayers = 6
)

const maxLogLines = 200

var Animals = []Animal{
	AnimalChicken,
	AnimalGoose,
	AnimalCat,
	AnimalDog,
	AnimalSheep,
	AnimalSnake,
	AnimalDonkey,
	AnimalPig,
	AnimalCow,
	AnimalHorse,
}

var AnimalScores = map[Animal]int{
	AnimalChicken: 10,
	AnimalGoose:   40,
	AnimalCat:     90,
	AnimalDog:     160,
	AnimalSheep:   250,
	AnimalSnake:   350,
	AnimalDonkey:  500,
	AnimalPig:     650,
	AnimalCow:     800,
	AnimalHorse:   1000,
}

var MoneyDenoms = []int{0, 10, 50, 100, 200, 500}

var StartMoney = map[int]int{
	0:  2,
	10: 4,
	50: 1,
}

// DonkeyPayouts is indexed by how many donkeys were drawn before this one.
var DonkeyPayouts = []int{50, 100, 200, 500}

func IsAnimal(a Animal) bool {
	_, ok := AnimalScores[a]
	return ok
}
